package engine

import (
	"sort"

	"github.com/fulldump/unikv/keys"
	"github.com/fulldump/unikv/storage"
)

// dbData is the shared state of one named database. Connections
// (*Database) are views on it.
type dbData struct {
	name    string
	version int
	stores  map[string]*storeData
	size    int64
	storage storage.Storage

	connections map[*Database]struct{}
	waiter      *waiter

	// scheduler for transactions, in creation order
	transactions []*Transaction
}

func newDBData(name string) *dbData {
	return &dbData{
		name:        name,
		stores:      map[string]*storeData{},
		connections: map[*Database]struct{}{},
	}
}

func (d *dbData) storeNames() []string {
	names := make([]string, 0, len(d.stores))
	for name := range d.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// waiter runs then once every connection but except is closed.
type waiter struct {
	except *Database
	then   func()
}

func (d *dbData) checkWaiter() {
	w := d.waiter
	if w == nil {
		return
	}
	for conn := range d.connections {
		if conn != w.except {
			return
		}
	}
	d.waiter = nil
	w.then()
}

type storeData struct {
	name          string
	keyPath       string
	autoIncrement bool
	current       float64
	records       *tree
	indexes       map[string]*indexData
	deleted       bool
}

func newStoreData(name, keyPath string, autoIncrement bool) *storeData {
	return &storeData{
		name:          name,
		keyPath:       keyPath,
		autoIncrement: autoIncrement,
		records:       newTree(),
		indexes:       map[string]*indexData{},
	}
}

func (s *storeData) indexNames() []string {
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *storeData) get(key any) *entry {
	e, ok := s.records.Get(&entry{key: key, primary: key})
	if !ok {
		return nil
	}
	return e
}

// insert writes a record and its index entries. Any previous record with the
// same key must have been removed first.
func (s *storeData) insert(e *entry) {
	s.records.ReplaceOrInsert(e)
	if len(s.indexes) == 0 {
		return
	}
	decoded, err := decodeValue(e.value)
	if err != nil {
		return
	}
	for _, index := range s.indexes {
		index.add(e.key, decoded)
	}
}

func (s *storeData) remove(e *entry) {
	s.records.Delete(e)
	if len(s.indexes) == 0 {
		return
	}
	decoded, err := decodeValue(e.value)
	if err != nil {
		return
	}
	for _, index := range s.indexes {
		index.remove(e.key, decoded)
	}
}

type indexData struct {
	name       string
	keyPath    string
	unique     bool
	multiEntry bool
	entries    *tree
	deleted    bool
}

func newIndexData(name, keyPath string, unique, multiEntry bool) *indexData {
	return &indexData{
		name:       name,
		keyPath:    keyPath,
		unique:     unique,
		multiEntry: multiEntry,
		entries:    newTree(),
	}
}

// keysFor returns the index keys a stored value produces. Values without a
// valid key at keyPath are not indexed.
func (i *indexData) keysFor(decoded any) []any {
	raw, ok := evaluateKeyPath(decoded, i.keyPath)
	if !ok {
		return nil
	}

	items, isArray := raw.([]any)
	if !i.multiEntry || !isArray {
		key, err := keys.Normalize(raw)
		if err != nil {
			return nil
		}
		return []any{key}
	}

	result := []any{}
	for _, item := range items {
		key, err := keys.Normalize(item)
		if err != nil {
			continue
		}
		duplicated := false
		for _, seen := range result {
			if keys.Equal(seen, key) {
				duplicated = true
				break
			}
		}
		if !duplicated {
			result = append(result, key)
		}
	}
	return result
}

func (i *indexData) add(primary, decoded any) {
	for _, key := range i.keysFor(decoded) {
		i.entries.ReplaceOrInsert(&entry{key: key, primary: primary})
	}
}

func (i *indexData) remove(primary, decoded any) {
	for _, key := range i.keysFor(decoded) {
		i.entries.Delete(&entry{key: key, primary: primary})
	}
}

// violates reports whether adding decoded under primary would break the
// unique constraint.
func (i *indexData) violates(primary, decoded any) bool {
	if !i.unique {
		return false
	}
	for _, key := range i.keysFor(decoded) {
		e := firstOfKey(i.entries, key)
		if e != nil && !keys.Equal(e.primary, primary) {
			return true
		}
	}
	return false
}

// build indexes every record of s. It stops at the first unique violation
// when check is set.
func (i *indexData) build(s *storeData, check bool) *Error {
	var failure *Error
	s.records.Ascend(func(e *entry) bool {
		decoded, err := decodeValue(e.value)
		if err != nil {
			failure = err
			return false
		}
		if check && i.violates(e.key, decoded) {
			failure = newError(ConstraintError, "index '%s' is unique and key is duplicated", i.name)
			return false
		}
		i.add(e.key, decoded)
		return true
	})
	return failure
}
