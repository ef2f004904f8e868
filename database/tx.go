package database

import (
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-json-experiment/json"

	"github.com/fulldump/unikv/criteria"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/iterate"
	"github.com/fulldump/unikv/join"
	"github.com/fulldump/unikv/request"
)

// Tx is a running transaction. Its methods must be called from the loop,
// which is where the function given to Transaction runs.
type Tx struct {
	db         *Database
	native     *engine.Transaction
	keyCursors bool
	raised     *request.Error
}

func (t *Tx) Native() *engine.Transaction {
	return t.native
}

func (t *Tx) Mode() engine.Mode {
	return t.native.Mode()
}

// Abort rolls the transaction back; its handle fails with AbortError.
func (t *Tx) Abort() error {
	return t.native.Abort()
}

// All waits for every item (handles or plain values), see join.All.
func (t *Tx) All(items ...any) *request.Handle {
	return join.All(t.db.loop, items, t.fallback)
}

// Map waits for every item (handles or plain values), see join.Map.
func (t *Tx) Map(items map[string]any) *request.Handle {
	return join.Map(t.db.loop, items, t.fallback)
}

func (t *Tx) call(fn func(tx *Tx) any) (result any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		t.raise(&request.Error{Component: "database", Operation: "transaction", Err: fmt.Errorf("panic: %w", err)})
		result = nil
	}()
	return fn(t)
}

// raise aborts the transaction with err, the first raised error is the one
// reported.
func (t *Tx) raise(err *request.Error) {
	if t.raised == nil {
		t.raised = err
	}
	t.native.Abort()
}

func (t *Tx) fallback(err *request.Error) {
	if t.db.config.OnError != nil {
		t.db.config.OnError(err)
		return
	}
	t.raise(err)
}

// Store returns the object store name. Lookup failures are reported by the
// operations of the returned store.
func (t *Tx) Store(name string) *Store {
	native, err := t.native.ObjectStore(name)
	return &Store{tx: t, name: name, native: native, err: err}
}

type Store struct {
	tx     *Tx
	name   string
	native *engine.ObjectStore
	err    error
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Native() *engine.ObjectStore {
	return s.native
}

func (s *Store) handle(operation string, args []any, issue func() *engine.Request) *request.Handle {
	meta := request.Meta{Component: s.name, Operation: operation, Args: args}
	if s.err != nil {
		return request.Failed(s.tx.db.loop, meta, s.tx.fallback, s.err)
	}
	return request.Wrap(s.tx.db.loop, issue(), meta, s.tx.fallback)
}

// Get resolves with the first value matching query (a key or criteria), nil
// when there is none.
func (s *Store) Get(query any) *request.Handle {
	return s.handle("get", []any{query}, func() *engine.Request {
		return s.native.Get(criteria.Encode(query))
	})
}

func (s *Store) GetKey(query any) *request.Handle {
	return s.handle("getKey", []any{query}, func() *engine.Request {
		return s.native.GetKey(criteria.Encode(query))
	})
}

// GetAll resolves with up to count values ([]any), zero means all.
func (s *Store) GetAll(query any, count int) *request.Handle {
	return s.handle("getAll", []any{query, count}, func() *engine.Request {
		return s.native.GetAll(criteria.Encode(query), count)
	})
}

// Put writes value and resolves with its key. key must be nil for stores
// with a key path.
func (s *Store) Put(value, key any) *request.Handle {
	return s.handle("put", []any{value, key}, func() *engine.Request {
		return s.native.Put(value, key)
	})
}

// Add is Put failing with ConstraintError when the key exists.
func (s *Store) Add(value, key any) *request.Handle {
	return s.handle("add", []any{value, key}, func() *engine.Request {
		return s.native.Add(value, key)
	})
}

func (s *Store) Delete(query any) *request.Handle {
	return s.handle("delete", []any{query}, func() *engine.Request {
		return s.native.Delete(criteria.Encode(query))
	})
}

func (s *Store) Clear() *request.Handle {
	return s.handle("clear", nil, func() *engine.Request {
		return s.native.Clear()
	})
}

func (s *Store) Count(query any) *request.Handle {
	return s.handle("count", []any{query}, func() *engine.Request {
		return s.native.Count(criteria.Encode(query))
	})
}

// Patch applies a JSON merge patch to the value stored under key and
// resolves with the patched value.
func (s *Store) Patch(key, patch any) *request.Handle {
	meta := request.Meta{Component: s.name, Operation: "patch", Args: []any{key, patch}}
	l := s.tx.db.loop
	if s.err != nil {
		return request.Failed(l, meta, s.tx.fallback, s.err)
	}

	h := request.New(l, meta, s.tx.fallback)
	get := s.native.Get(key)
	get.OnError = func(err error) {
		h.Fail(err)
	}
	get.OnSuccess = func(current any) {
		if current == nil {
			h.Fail(&engine.Error{Code: engine.NotFoundError, Message: fmt.Sprintf("no value with key %v", key)})
			return
		}

		patched, err := mergePatch(current, patch)
		if err != nil {
			h.Fail(&engine.Error{Code: engine.DataError, Message: err.Error()})
			return
		}

		var putKey any
		if s.native.KeyPath() == "" {
			putKey = key
		}
		put := s.native.Put(patched, putKey)
		put.OnError = func(err error) {
			h.Fail(err)
		}
		put.OnSuccess = func(any) {
			h.Resolve(patched)
		}
	}

	return h
}

func mergePatch(current, patch any) (any, error) {
	original, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	var patchDoc []byte
	switch p := patch.(type) {
	case []byte:
		patchDoc = p
	case string:
		patchDoc = []byte(p)
	default:
		patchDoc, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode patch: %w", err)
		}
	}

	merged, err := jsonpatch.MergePatch(original, patchDoc)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}

	var result any
	if err := json.Unmarshal(merged, &result); err != nil {
		return nil, fmt.Errorf("decode patched value: %w", err)
	}
	return result, nil
}

// valuesOnly hides the key cursors of sources that cannot provide them.
type valuesOnly struct {
	iterate.Source
}

// Query walks the store, or the index named by c.Index, see iterate.Run.
func (s *Store) Query(c *criteria.Criteria) *request.Handle {
	meta := request.Meta{Component: s.name, Operation: "query", Args: []any{c}}
	l := s.tx.db.loop
	if s.err != nil {
		return request.Failed(l, meta, s.tx.fallback, s.err)
	}

	var src iterate.Source = s.native
	if c != nil && c.Index != "" {
		index, err := s.native.Index(c.Index)
		if err != nil {
			return request.Failed(l, meta, s.tx.fallback, err)
		}
		src = index
	} else if !s.tx.keyCursors {
		src = valuesOnly{s.native}
	}

	return iterate.Run(l, src, c, meta, s.tx.fallback)
}

func (s *Store) Index(name string) *Index {
	i := &Index{store: s, name: name, err: s.err}
	if s.err == nil {
		i.native, i.err = s.native.Index(name)
	}
	return i
}

type Index struct {
	store  *Store
	name   string
	native *engine.Index
	err    error
}

func (i *Index) Name() string {
	return i.name
}

func (i *Index) handle(operation string, args []any, issue func() *engine.Request) *request.Handle {
	tx := i.store.tx
	meta := request.Meta{Component: i.store.name + "." + i.name, Operation: operation, Args: args}
	if i.err != nil {
		return request.Failed(tx.db.loop, meta, tx.fallback, i.err)
	}
	return request.Wrap(tx.db.loop, issue(), meta, tx.fallback)
}

// Get resolves with the first value whose index key matches query.
func (i *Index) Get(query any) *request.Handle {
	return i.handle("get", []any{query}, func() *engine.Request {
		return i.native.Get(criteria.Encode(query))
	})
}

// GetKey resolves with the primary key of the first match.
func (i *Index) GetKey(query any) *request.Handle {
	return i.handle("getKey", []any{query}, func() *engine.Request {
		return i.native.GetKey(criteria.Encode(query))
	})
}

func (i *Index) GetAll(query any, count int) *request.Handle {
	return i.handle("getAll", []any{query, count}, func() *engine.Request {
		return i.native.GetAll(criteria.Encode(query), count)
	})
}

func (i *Index) Count(query any) *request.Handle {
	return i.handle("count", []any{query}, func() *engine.Request {
		return i.native.Count(criteria.Encode(query))
	})
}

// Query walks the index; c.Index is ignored.
func (i *Index) Query(c *criteria.Criteria) *request.Handle {
	tx := i.store.tx
	meta := request.Meta{Component: i.store.name + "." + i.name, Operation: "query", Args: []any{c}}
	if i.err != nil {
		return request.Failed(tx.db.loop, meta, tx.fallback, i.err)
	}
	return iterate.Run(tx.db.loop, i.native, c, meta, tx.fallback)
}
