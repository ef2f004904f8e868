package engine

import (
	"math"

	"github.com/fulldump/unikv/keys"
	"github.com/fulldump/unikv/storage"
)

// maxGeneratedKey is the largest integer a float64 represents exactly.
const maxGeneratedKey = 1 << 53

type StoreOptions struct {
	KeyPath       string `json:"keyPath,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
}

type IndexOptions struct {
	Unique     bool `json:"unique,omitempty"`
	MultiEntry bool `json:"multiEntry,omitempty"`
}

// ObjectStore is the view of a store inside one transaction.
type ObjectStore struct {
	tx   *Transaction
	data *storeData
}

func (s *ObjectStore) Name() string {
	return s.data.name
}

func (s *ObjectStore) KeyPath() string {
	return s.data.keyPath
}

func (s *ObjectStore) AutoIncrement() bool {
	return s.data.autoIncrement
}

func (s *ObjectStore) IndexNames() []string {
	return s.data.indexNames()
}

func (s *ObjectStore) Transaction() *Transaction {
	return s.tx
}

func (s *ObjectStore) Index(name string) (*Index, error) {
	if s.tx.state == txFinished {
		return nil, newError(InvalidStateError, "transaction has finished")
	}
	if s.data.deleted {
		return nil, newError(InvalidStateError, "object store '%s' was deleted", s.data.name)
	}
	index, exists := s.data.indexes[name]
	if !exists {
		return nil, newError(NotFoundError, "index '%s' not found in '%s'", name, s.data.name)
	}
	return &Index{store: s, data: index}, nil
}

func (s *ObjectStore) alive() *Error {
	if s.data.deleted {
		return newError(InvalidStateError, "object store '%s' was deleted", s.data.name)
	}
	return nil
}

// Get resolves with the value of the first record in query, or nil.
func (s *ObjectStore) Get(query any) *Request {
	return s.tx.issue(s, false, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, true)
		if err != nil {
			return nil, err
		}
		e := seekForward(s.data.records, rng, nil)
		if e == nil {
			return nil, nil
		}
		return decodeValue(e.value)
	})
}

// GetKey resolves with the key of the first record in query, or nil.
func (s *ObjectStore) GetKey(query any) *Request {
	return s.tx.issue(s, false, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, true)
		if err != nil {
			return nil, err
		}
		e := seekForward(s.data.records, rng, nil)
		if e == nil {
			return nil, nil
		}
		return e.key, nil
	})
}

// GetAll resolves with up to count values ([]any) in key order, zero count
// means all of them.
func (s *ObjectStore) GetAll(query any, count int) *Request {
	return s.tx.issue(s, false, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		result := []any{}
		var failure *Error
		ascendRange(s.data.records, rng, func(e *entry) bool {
			value, err := decodeValue(e.value)
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

// GetAllKeys resolves with up to count keys ([]any) in order.
func (s *ObjectStore) GetAllKeys(query any, count int) *Request {
	return s.tx.issue(s, false, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		result := []any{}
		ascendRange(s.data.records, rng, func(e *entry) bool {
			result = append(result, e.key)
			return count <= 0 || len(result) < count
		})
		return result, nil
	})
}

// Count resolves with the number (int) of records in query.
func (s *ObjectStore) Count(query any) *Request {
	return s.tx.issue(s, false, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		return countRange(s.data.records, rng), nil
	})
}

// Put inserts or replaces value and resolves with its key. key must be nil
// for stores with a key path.
func (s *ObjectStore) Put(value any, key any) *Request {
	return s.tx.issue(s, true, func() (any, *Error) {
		return s.write(value, key, false)
	})
}

// Add is Put failing with ConstraintError when the key already exists.
func (s *ObjectStore) Add(value any, key any) *Request {
	return s.tx.issue(s, true, func() (any, *Error) {
		return s.write(value, key, true)
	})
}

func (s *ObjectStore) write(value any, key any, noOverwrite bool) (any, *Error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	store := s.data
	encoded, decoded, err := cloneValue(value)
	if err != nil {
		return nil, err
	}

	generated := false
	if store.keyPath != "" {
		if key != nil {
			return nil, newError(DataError, "object store '%s' uses in-line keys, key must not be provided", store.name)
		}
		if _, exists := evaluateKeyPath(decoded, store.keyPath); exists {
			k, ok := extractKey(decoded, store.keyPath)
			if !ok {
				return nil, newError(DataError, "value at key path '%s' is not a valid key", store.keyPath)
			}
			key = k
		} else if store.autoIncrement {
			if !canInjectKey(decoded, store.keyPath) {
				return nil, newError(DataError, "generated key cannot be written at '%s'", store.keyPath)
			}
			generated = true
		} else {
			return nil, newError(DataError, "value has no key at key path '%s'", store.keyPath)
		}
	} else if key == nil {
		if !store.autoIncrement {
			return nil, newError(DataError, "object store '%s' uses out-of-line keys, a key is required", store.name)
		}
		generated = true
	} else {
		k, nerr := keys.Normalize(key)
		if nerr != nil {
			return nil, newError(DataError, "%s", nerr.Error())
		}
		key = k
	}

	previousCurrent := store.current
	if generated {
		if store.current >= maxGeneratedKey {
			return nil, newError(ConstraintError, "key generator of '%s' is exhausted", store.name)
		}
		key = store.current + 1
		if store.keyPath != "" {
			injectKey(decoded, store.keyPath, key)
			encoded, err = encodeValue(decoded)
			if err != nil {
				return nil, err
			}
		}
	}

	existing := store.get(key)
	if existing != nil && noOverwrite {
		return nil, newError(ConstraintError, "key already exists in object store '%s'", store.name)
	}

	for _, index := range store.indexes {
		if index.violates(key, decoded) {
			return nil, newError(ConstraintError, "unique index '%s' already contains the key", index.name)
		}
	}

	delta := int64(len(encoded))
	if existing != nil {
		delta -= int64(len(existing.value))
	}
	quota := s.tx.db.factory.options.QuotaBytes
	if quota > 0 && delta > 0 && s.tx.data.size+delta > quota {
		return nil, newError(QuotaExceededError, "database '%s' would exceed %d bytes", s.tx.data.name, quota)
	}

	marshalledKey, merr := keys.Marshal(key)
	if merr != nil {
		return nil, newError(DataError, "%s", merr.Error())
	}

	if store.autoIncrement {
		if f, isNumber := key.(float64); isNumber && f > store.current {
			store.current = math.Min(math.Floor(f), maxGeneratedKey)
			s.tx.record(storage.CommandGenerator, storage.GeneratorPayload{Store: store.name, Current: store.current})
		}
	}

	if existing != nil {
		store.remove(existing)
	}
	record := &entry{key: key, primary: key, value: encoded}
	store.insert(record)
	s.tx.data.size += delta

	d := s.tx.data
	s.tx.undo = append(s.tx.undo, func() {
		store.remove(record)
		if existing != nil {
			store.insert(existing)
		}
		d.size -= delta
		store.current = previousCurrent
	})
	s.tx.record(storage.CommandPut, storage.RecordPayload{Store: store.name, Key: marshalledKey, Value: encoded})

	return key, nil
}

// Delete removes every record in query.
func (s *ObjectStore) Delete(query any) *Request {
	return s.tx.issue(s, true, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		rng, err := toRange(query, true)
		if err != nil {
			return nil, err
		}

		removed := []*entry{}
		ascendRange(s.data.records, rng, func(e *entry) bool {
			removed = append(removed, e)
			return true
		})
		s.removeEntries(removed)
		for _, e := range removed {
			marshalledKey, merr := keys.Marshal(e.key)
			if merr != nil {
				continue
			}
			s.tx.record(storage.CommandDelete, storage.RecordPayload{Store: s.data.name, Key: marshalledKey})
		}
		return nil, nil
	})
}

// Clear removes every record. The key generator is kept.
func (s *ObjectStore) Clear() *Request {
	return s.tx.issue(s, true, func() (any, *Error) {
		if err := s.alive(); err != nil {
			return nil, err
		}
		removed := []*entry{}
		s.data.records.Ascend(func(e *entry) bool {
			removed = append(removed, e)
			return true
		})
		s.removeEntries(removed)
		s.tx.record(storage.CommandClear, storage.RecordPayload{Store: s.data.name})
		return nil, nil
	})
}

func (s *ObjectStore) removeEntries(removed []*entry) {
	if len(removed) == 0 {
		return
	}
	store := s.data
	d := s.tx.data
	var size int64
	for _, e := range removed {
		store.remove(e)
		size += int64(len(e.value))
	}
	d.size -= size
	s.tx.undo = append(s.tx.undo, func() {
		for _, e := range removed {
			store.insert(e)
		}
		d.size += size
	})
}

func (s *ObjectStore) OpenCursor(query any, dir Direction) *Request {
	return openCursor(s.tx, s, s.data, s.data.records, query, dir, false)
}

// OpenKeyCursor walks keys only. Connections opened through the legacy
// factory do not support it.
func (s *ObjectStore) OpenKeyCursor(query any, dir Direction) *Request {
	if s.tx.db.legacy {
		return s.tx.issue(s, false, func() (any, *Error) {
			return nil, newError(NonTransientError, "object store key cursors are not supported")
		})
	}
	return openCursor(s.tx, s, s.data, s.data.records, query, dir, true)
}

// CreateIndex indexes every existing record. Only valid during a version
// change.
func (s *ObjectStore) CreateIndex(name, keyPath string, options IndexOptions) (*Index, error) {
	if err := s.tx.checkVersionChange(); err != nil {
		return nil, err
	}
	if err := s.alive(); err != nil {
		return nil, err
	}
	store := s.data
	if _, exists := store.indexes[name]; exists {
		return nil, newError(ConstraintError, "index '%s' already exists in '%s'", name, store.name)
	}

	index := newIndexData(name, keyPath, options.Unique, options.MultiEntry)
	if err := index.build(store, true); err != nil {
		return nil, err
	}

	store.indexes[name] = index
	s.tx.undo = append(s.tx.undo, func() {
		index.deleted = true
		delete(store.indexes, name)
	})
	s.tx.record(storage.CommandCreateIndex, storage.IndexPayload{
		Store:      store.name,
		Name:       name,
		KeyPath:    keyPath,
		Unique:     options.Unique,
		MultiEntry: options.MultiEntry,
	})

	return &Index{store: s, data: index}, nil
}

func (s *ObjectStore) DeleteIndex(name string) error {
	if err := s.tx.checkVersionChange(); err != nil {
		return err
	}
	store := s.data
	index, exists := store.indexes[name]
	if !exists {
		return newError(NotFoundError, "index '%s' not found in '%s'", name, store.name)
	}

	delete(store.indexes, name)
	index.deleted = true
	s.tx.undo = append(s.tx.undo, func() {
		index.deleted = false
		store.indexes[name] = index
	})
	s.tx.record(storage.CommandDeleteIndex, storage.IndexPayload{Store: store.name, Name: name})

	return nil
}

// CreateObjectStore is only valid during a version change.
func (tx *Transaction) CreateObjectStore(name string, options StoreOptions) (*ObjectStore, error) {
	if err := tx.checkVersionChange(); err != nil {
		return nil, err
	}
	d := tx.data
	if _, exists := d.stores[name]; exists {
		return nil, newError(ConstraintError, "object store '%s' already exists", name)
	}

	store := newStoreData(name, options.KeyPath, options.AutoIncrement)
	d.stores[name] = store
	tx.undo = append(tx.undo, func() {
		store.deleted = true
		delete(d.stores, name)
	})
	tx.record(storage.CommandCreateStore, storage.StorePayload{
		Name:          name,
		KeyPath:       options.KeyPath,
		AutoIncrement: options.AutoIncrement,
	})

	return &ObjectStore{tx: tx, data: store}, nil
}

func (tx *Transaction) DeleteObjectStore(name string) error {
	if err := tx.checkVersionChange(); err != nil {
		return err
	}
	d := tx.data
	store, exists := d.stores[name]
	if !exists {
		return newError(NotFoundError, "object store '%s' not found", name)
	}

	var size int64
	store.records.Ascend(func(e *entry) bool {
		size += int64(len(e.value))
		return true
	})

	delete(d.stores, name)
	store.deleted = true
	d.size -= size
	tx.undo = append(tx.undo, func() {
		store.deleted = false
		d.stores[name] = store
		d.size += size
	})
	tx.record(storage.CommandDeleteStore, storage.StorePayload{Name: name})

	return nil
}
