package apistore

import (
	"context"

	"github.com/fulldump/unikv/service"
)

func listStores(ctx context.Context) ([]*service.Store, error) {
	return GetServicer(ctx).ListStores(ctx)
}
