package service

import (
	"net/http"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
)

type JSON = map[string]interface{}

// Acceptance runs the HTTP API against a database named "shop" at version 1
// whose migrations create the store "users" (key path "id") with the index
// "by_age" (key path "age").
func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	ana := JSON{"id": 1, "name": "Ana", "age": 25}
	bea := JSON{"id": 2, "name": "Bea", "age": 35}
	carl := JSON{"id": 3, "name": "Carl", "age": 45}

	a.Alternative("Status", func(a *biff.A) {
		resp := apiRequest("GET", "/status").Do()
		Save(resp, "Status", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
		biff.AssertEqualJson(resp.BodyJson(), JSON{
			"name":    "shop",
			"status":  "operating",
			"variant": "upgrade",
			"version": 1,
		})
	})

	a.Alternative("List stores", func(a *biff.A) {
		resp := apiRequest("GET", "/stores").Do()
		Save(resp, "List stores", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
		biff.AssertEqualJson(resp.BodyJson(), []JSON{
			{
				"name":          "users",
				"keyPath":       "id",
				"autoIncrement": false,
				"indexes":       []string{"by_age"},
				"total":         0,
			},
		})
	})

	a.Alternative("Unknown store", func(a *biff.A) {
		resp := apiRequest("GET", "/stores/nope").Do()
		Save(resp, "Retrieve store - not found", ``)
		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)

		resp = apiRequest("POST", "/stores/nope:find").WithBodyJson(JSON{}).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
	})

	a.Alternative("Insert one", func(a *biff.A) {
		resp := apiRequest("POST", "/stores/users:insert").
			WithBodyJson(ana).Do()
		Save(resp, "Insert one", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		biff.AssertEqualJson(resp.BodyJson(), []any{1})

		a.Alternative("Get by key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:get").
				WithBodyJson(JSON{"key": 1}).Do()
			Save(resp, "Get", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), ana)
		})

		a.Alternative("Get a missing key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:get").
				WithBodyJson(JSON{"key": 9}).Do()
			Save(resp, "Get - not found", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		})

		a.Alternative("Get without key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:get").
				WithBodyJson(JSON{}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Insert an existing key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:insert").
				WithBodyJson(ana).Do()
			Save(resp, "Insert - conflict", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})

		a.Alternative("Retrieve store", func(a *biff.A) {
			resp := apiRequest("GET", "/stores/users").Do()
			Save(resp, "Retrieve store", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"name":          "users",
				"keyPath":       "id",
				"autoIncrement": false,
				"indexes":       []string{"by_age"},
				"total":         1,
			})
		})
	})

	a.Alternative("Insert a value without key", func(a *biff.A) {
		resp := apiRequest("POST", "/stores/users:insert").
			WithBodyJson(JSON{"name": "nobody"}).Do()

		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})

	a.Alternative("Malformed body", func(a *biff.A) {
		resp := apiRequest("POST", "/stores/users:insert").
			WithBodyString(`{"id": `).Do()

		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})

	a.Alternative("Insert many", func(a *biff.A) {
		resp := apiRequest("POST", "/stores/users:insert").
			WithBodyJson([]JSON{ana, bea, carl}).Do()
		Save(resp, "Insert many", `
			Values are inserted in one transaction: all of them or none.
		`)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		biff.AssertEqualJson(resp.BodyJson(), []any{1, 2, 3})

		a.Alternative("Insert many is all or nothing", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:insert").
				WithBodyJson([]JSON{{"id": 4, "name": "Dan", "age": 55}, ana}).Do()
			biff.AssertEqual(resp.StatusCode, http.StatusConflict)

			resp = apiRequest("POST", "/stores/users:count").WithBodyJson(JSON{}).Do()
			biff.AssertEqualJson(resp.BodyJson(), JSON{"count": 3})
		})

		a.Alternative("Find everything", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{}).Do()
			Save(resp, "Find - fullscan", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []JSON{ana, bea, carl})
		})

		a.Alternative("Find by index range", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{"index": "by_age", "ge": 30, "direction": "prev"}).Do()
			Save(resp, "Find - index range", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []JSON{carl, bea})
		})

		a.Alternative("Find keys with paging", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{"index": "by_age", "keyOnly": true, "offset": 1, "limit": 1}).Do()
			Save(resp, "Find - keys", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []any{2})
		})

		a.Alternative("Find with match", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{"match": JSON{"age": JSON{"$lt": 40}}}).Do()
			Save(resp, "Find - match", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []JSON{ana, bea})
		})

		a.Alternative("Find with a bad direction", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{"direction": "sideways"}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})

		a.Alternative("Find on a missing index", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:find").
				WithBodyJson(JSON{"index": "by_name"}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		})

		a.Alternative("Count", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:count").
				WithBodyJson(JSON{"index": "by_age", "ge": 30}).Do()
			Save(resp, "Count", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"count": 2})
		})

		a.Alternative("Remove by key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:remove").
				WithBodyJson(JSON{"key": 2}).Do()
			Save(resp, "Remove - by key", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 1})

			resp = apiRequest("POST", "/stores/users:find").WithBodyJson(JSON{}).Do()
			biff.AssertEqualJson(resp.BodyJson(), []JSON{ana, carl})
		})

		a.Alternative("Remove by range", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:remove").
				WithBodyJson(JSON{"ge": 2}).Do()
			Save(resp, "Remove - by range", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 2})
		})

		a.Alternative("Remove everything", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:remove").Do()

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 3})
		})

		a.Alternative("Patch", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:patch").
				WithBodyJson(JSON{"key": 3, "patch": JSON{"name": "Carlos", "age": nil}}).Do()
			Save(resp, "Patch", `
				The patch is a JSON merge patch (RFC 7386), null removes a field.
			`)

			expected := JSON{"id": 3, "name": "Carlos"}
			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), expected)

			resp = apiRequest("POST", "/stores/users:get").WithBodyJson(JSON{"key": 3}).Do()
			biff.AssertEqualJson(resp.BodyJson(), expected)
		})

		a.Alternative("Patch a missing key", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:patch").
				WithBodyJson(JSON{"key": 9, "patch": JSON{"name": "Nobody"}}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		})
	})
}
