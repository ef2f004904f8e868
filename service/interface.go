package service

import (
	"context"
	"errors"

	"github.com/fulldump/unikv/criteria"
)

var ErrorStoreNotFound = errors.New("store not found")

type Servicer interface { // todo: review naming
	Status() *Status
	ListStores(ctx context.Context) ([]*Store, error)
	GetStore(ctx context.Context, name string) (*Store, error)
	Insert(ctx context.Context, store string, values []any) ([]any, error)
	Get(ctx context.Context, store string, key any) (any, error)
	Find(ctx context.Context, store string, c *criteria.Criteria) ([]any, error)
	Count(ctx context.Context, store string, c *criteria.Criteria) (int, error)
	Remove(ctx context.Context, store string, query any) (int, error)
	Patch(ctx context.Context, store string, key, patch any) (any, error)
}
