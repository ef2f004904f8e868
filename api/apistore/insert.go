package apistore

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
)

// insert accepts one value or an array of values and responds with their
// keys. Either every value is stored or none.
func insert(ctx context.Context, r *http.Request) (any, error) {

	var input any
	if err := decodeBody(r, &input); err != nil {
		return nil, err
	}

	values, ok := input.([]any)
	if !ok {
		values = []any{input}
	}

	s := GetServicer(ctx)
	storeName := box.GetUrlParameter(ctx, "storeName")
	keys, err := s.Insert(ctx, storeName, values)
	if err != nil {
		return nil, err
	}

	box.GetResponse(ctx).WriteHeader(http.StatusCreated)
	return keys, nil
}
