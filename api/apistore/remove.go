package apistore

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
)

// remove deletes by {"key": k} or by the key range of criteria; an empty
// body removes everything.
func remove(ctx context.Context, r *http.Request) (any, error) {

	input := map[string]any{}
	if err := decodeBody(r, &input); err != nil {
		return nil, err
	}

	var query any
	if key, ok := input["key"]; ok {
		query = key
	} else {
		c, err := decodeCriteria(input)
		if err != nil {
			return nil, err
		}
		query = c
	}

	s := GetServicer(ctx)
	storeName := box.GetUrlParameter(ctx, "storeName")
	removed, err := s.Remove(ctx, storeName, query)
	if err != nil {
		return nil, err
	}

	return map[string]any{"removed": removed}, nil
}
