package apistore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fulldump/box"
)

func patch(ctx context.Context, r *http.Request) (any, error) {

	input := struct {
		Key   any `json:"key"`
		Patch any `json:"patch"`
	}{}
	if err := decodeBody(r, &input); err != nil {
		return nil, err
	}
	if input.Key == nil {
		return nil, fmt.Errorf("%w: key is required", ErrMalformedBody)
	}
	if _, ok := input.Patch.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: patch must be an object", ErrMalformedBody)
	}

	s := GetServicer(ctx)
	storeName := box.GetUrlParameter(ctx, "storeName")
	return s.Patch(ctx, storeName, input.Key, input.Patch)
}
