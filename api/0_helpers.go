package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/unikv/api/apistore"
	"github.com/fulldump/unikv/database"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/request"
	"github.com/fulldump/unikv/service"
)

var ErrUnavailable = errors.New("temporary unavailable")

type PrettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (p PrettyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"error": struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		}{
			p.Message,
			p.Description,
		},
	})
}

func InterceptorUnavailable(db *database.Database) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			status := db.GetStatus()
			if status != database.StatusOperating {
				box.SetError(ctx, fmt.Errorf("%w: %s", ErrUnavailable, status))
				return
			}
			next(ctx)
		}
	}
}

// errorStatus maps err to the response status and its description.
func errorStatus(ctx context.Context, err error) (int, string) {

	switch {
	case errors.Is(err, box.ErrResourceNotFound):
		return http.StatusNotFound, fmt.Sprintf("resource '%s' not found", box.GetRequest(ctx).URL.String())
	case errors.Is(err, box.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, fmt.Sprintf("method '%s' not allowed", box.GetRequest(ctx).Method)
	case errors.Is(err, ErrUnavailable), errors.Is(err, database.ErrClosed):
		return http.StatusServiceUnavailable, "database is not available"
	case errors.Is(err, service.ErrorStoreNotFound):
		return http.StatusNotFound, fmt.Sprintf("store '%s' not found", box.GetUrlParameter(ctx, "storeName"))
	case errors.Is(err, apistore.ErrMalformedBody):
		return http.StatusBadRequest, "Malformed request"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, "Malformed JSON"
	}

	switch request.CodeOf(err) {
	case engine.NotFoundError:
		return http.StatusNotFound, "not found"
	case engine.ConstraintError:
		return http.StatusConflict, "constraint violated"
	case engine.DataError:
		return http.StatusBadRequest, "invalid data"
	case engine.ReadOnlyError, engine.NonTransientError:
		return http.StatusBadRequest, "operation not allowed"
	case engine.TimeoutError, engine.AbortError:
		return http.StatusConflict, "transaction aborted"
	}

	return http.StatusInternalServerError, "Unexpected error"
}

func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}

		status, description := errorStatus(ctx, err)

		w := box.GetResponse(ctx)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(PrettyError{
			Message:     err.Error(),
			Description: description,
		})
	}
}
