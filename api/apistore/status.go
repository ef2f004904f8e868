package apistore

import (
	"context"

	"github.com/fulldump/unikv/service"
)

func status(ctx context.Context) (*service.Status, error) {
	return GetServicer(ctx).Status(), nil
}
