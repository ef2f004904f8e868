package apistore

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
)

func count(ctx context.Context, r *http.Request) (any, error) {

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
	n, err := s.Count(ctx, storeName, c)
	if err != nil {
		return nil, err
	}

	return map[string]any{"count": n}, nil
}
