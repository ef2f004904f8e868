package apistore

import (
	"github.com/fulldump/box"

	"github.com/fulldump/unikv/service"
)

func BuildV1Store(v1 *box.R, s service.Servicer) *box.R {

	v1.Resource("/status").
		WithActions(
			box.Get(status),
		)

	stores := v1.Resource("/stores").
		WithActions(
			box.Get(listStores),
		)

	v1.Resource("/stores/{storeName}").
		WithActions(
			box.Get(getStore),
			box.ActionPost(insert).WithName("insert"),
			box.ActionPost(get).WithName("get"),
			box.ActionPost(find).WithName("find"),
			box.ActionPost(count).WithName("count"),
			box.ActionPost(remove).WithName("remove"),
			box.ActionPost(patch).WithName("patch"),
		)

	return stores
}
