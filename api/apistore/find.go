package apistore

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
)

// find walks the store (or "index") with the criteria in the body:
//
//	{"index": "by_age", "ge": 18, "direction": "prev", "match": {"name": "Ana"}, "offset": 0, "limit": 10, "keyOnly": false}
func find(ctx context.Context, r *http.Request) ([]any, error) {

	input := map[string]any{}
	if err := decodeBody(r, &input); err != nil {
		return nil, err
	}
	c, err := decodeCriteria(input)
	if err != nil {
		return nil, err
	}

	s := GetServicer(ctx)
	storeName := box.GetUrlParameter(ctx, "storeName")
	return s.Find(ctx, storeName, c)
}
