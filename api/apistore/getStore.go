package apistore

import (
	"context"

	"github.com/fulldump/box"

	"github.com/fulldump/unikv/service"
)

func getStore(ctx context.Context) (*service.Store, error) {
	storeName := box.GetUrlParameter(ctx, "storeName")
	return GetServicer(ctx).GetStore(ctx, storeName)
}
