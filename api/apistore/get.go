package apistore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fulldump/box"
)

type keyInput struct {
	Key any `json:"key"`
}

func get(ctx context.Context, r *http.Request) (any, error) {

	input := &keyInput{}
	if err := decodeBody(r, input); err != nil {
		return nil, err
	}
	if input.Key == nil {
		return nil, fmt.Errorf("%w: key is required", ErrMalformedBody)
	}

	s := GetServicer(ctx)
	storeName := box.GetUrlParameter(ctx, "storeName")
	return s.Get(ctx, storeName, input.Key)
}
