package apistore

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/fulldump/unikv/criteria"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/utils"
)

var ErrMalformedBody = errors.New("malformed body")

// decodeBody reads the JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	return nil
}

var directions = map[string]engine.Direction{
	string(engine.Next):       engine.Next,
	string(engine.NextUnique): engine.NextUnique,
	string(engine.Prev):       engine.Prev,
	string(engine.PrevUnique): engine.PrevUnique,
}

// decodeCriteria reads criteria from a generic body.
func decodeCriteria(input map[string]any) (*criteria.Criteria, error) {
	c := &criteria.Criteria{}
	if err := utils.Remarshal(input, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if _, ok := directions[c.Direction]; c.Direction != "" && !ok {
		return nil, fmt.Errorf("%w: bad direction '%s', must be [%s]", ErrMalformedBody, c.Direction, strings.Join(utils.GetKeys(directions), "|"))
	}
	if c.Offset < 0 || c.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrMalformedBody)
	}
	return c, nil
}
