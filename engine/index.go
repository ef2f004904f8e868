package engine

// Index is the view of a secondary index inside one transaction.
type Index struct {
	store *ObjectStore
	data  *indexData
}

func (i *Index) Name() string {
	return i.data.name
}

func (i *Index) KeyPath() string {
	return i.data.keyPath
}

func (i *Index) Unique() bool {
	return i.data.unique
}

func (i *Index) MultiEntry() bool {
	return i.data.multiEntry
}

func (i *Index) ObjectStore() *ObjectStore {
	return i.store
}

func (i *Index) alive() *Error {
	if i.data.deleted {
		return newError(InvalidStateError, "index '%s' was deleted", i.data.name)
	}
	return i.store.alive()
}

func (i *Index) first(query any) (*entry, *Error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	rng, err := toRange(query, true)
	if err != nil {
		return nil, err
	}
	return seekForward(i.data.entries, rng, nil), nil
}

// Get resolves with the value of the first record whose index key is in
// query, or nil.
func (i *Index) Get(query any) *Request {
	return i.store.tx.issue(i, false, func() (any, *Error) {
		e, err := i.first(query)
		if err != nil || e == nil {
			return nil, err
		}
		record := i.store.data.get(e.primary)
		if record == nil {
			return nil, nil
		}
		return decodeValue(record.value)
	})
}

// GetKey resolves with the primary key of the first match, or nil.
func (i *Index) GetKey(query any) *Request {
	return i.store.tx.issue(i, false, func() (any, *Error) {
		e, err := i.first(query)
		if err != nil || e == nil {
			return nil, err
		}
		return e.primary, nil
	})
}

func (i *Index) GetAll(query any, count int) *Request {
	return i.store.tx.issue(i, false, func() (any, *Error) {
		if err := i.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		result := []any{}
		var failure *Error
		ascendRange(i.data.entries, rng, func(e *entry) bool {
			record := i.store.data.get(e.primary)
			if record == nil {
				return true
			}
			value, err := decodeValue(record.value)
			if err != nil {
				failure = err
				return false
			}
			result = append(result, value)
			return count <= 0 || len(result) < count
		})
		if failure != nil {
			return nil, failure
		}
		return result, nil
	})
}

func (i *Index) GetAllKeys(query any, count int) *Request {
	return i.store.tx.issue(i, false, func() (any, *Error) {
		if err := i.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		result := []any{}
		ascendRange(i.data.entries, rng, func(e *entry) bool {
			result = append(result, e.primary)
			return count <= 0 || len(result) < count
		})
		return result, nil
	})
}

func (i *Index) Count(query any) *Request {
	return i.store.tx.issue(i, false, func() (any, *Error) {
		if err := i.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		return countRange(i.data.entries, rng), nil
	})
}

func (i *Index) OpenCursor(query any, dir Direction) *Request {
	return openCursor(i.store.tx, i, i.store.data, i.data.entries, query, dir, false)
}

func (i *Index) OpenKeyCursor(query any, dir Direction) *Request {
	return openCursor(i.store.tx, i, i.store.data, i.data.entries, query, dir, true)
}
