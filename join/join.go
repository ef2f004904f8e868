package join

import (
	"sync"

	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/request"
)

// coordinator fans several entries in to one handle. The first failure
// finalizes it; later outcomes are dropped.
type coordinator struct {
	mutex     sync.Mutex
	handle    *request.Handle
	pending   int
	finalized bool
	result    any
}

func (c *coordinator) watch(key any, item any, store func(value any)) {
	h, isHandle := item.(*request.Handle)
	if !isHandle {
		c.complete(store, item)
		return
	}

	h.OnDone(func(value any) {
		c.complete(store, value)
	})
	h.OnFailed(func(err *request.Error) {
		c.fail(key, h.Meta(), err)
	})
}

func (c *coordinator) complete(store func(value any), value any) {
	c.mutex.Lock()
	if c.finalized {
		c.mutex.Unlock()
		return
	}
	store(value)
	c.pending--
	if c.pending > 0 {
		c.mutex.Unlock()
		return
	}
	c.finalized = true
	c.mutex.Unlock()

	c.handle.Resolve(c.result)
}

func (c *coordinator) fail(key any, meta request.Meta, err *request.Error) {
	c.mutex.Lock()
	if c.finalized {
		c.mutex.Unlock()
		return
	}
	c.finalized = true
	c.mutex.Unlock()

	c.handle.Fail(&request.Error{
		Component: meta.Component,
		Operation: meta.Operation,
		Args:      meta.Args,
		Key:       key,
		Err:       err,
	})
}

// All waits for every entry of items. Entries that are handles (including
// other joins) are awaited, anything else is taken as an already known value.
// The handle resolves with a []any in input order, or fails with the first
// failure, keyed by its index.
func All(l *loop.Loop, items []any, fallback request.ErrorHandler) *request.Handle {
	results := make([]any, len(items))
	c := &coordinator{
		handle:  request.New(l, request.Meta{Component: "join", Operation: "all", Args: []any{len(items)}}, fallback),
		pending: len(items),
		result:  results,
	}

	if len(items) == 0 {
		c.handle.Resolve(results)
		return c.handle
	}

	for i, item := range items {
		i := i
		c.watch(i, item, func(value any) {
			results[i] = value
		})
	}

	return c.handle
}

// Map is All for a key-named set of entries; it resolves with a
// map[string]any with the same keys.
func Map(l *loop.Loop, items map[string]any, fallback request.ErrorHandler) *request.Handle {
	results := make(map[string]any, len(items))
	c := &coordinator{
		handle:  request.New(l, request.Meta{Component: "join", Operation: "map", Args: []any{len(items)}}, fallback),
		pending: len(items),
		result:  results,
	}

	if len(items) == 0 {
		c.handle.Resolve(results)
		return c.handle
	}

	for key, item := range items {
		key := key
		c.watch(key, item, func(value any) {
			results[key] = value
		})
	}

	return c.handle
}
