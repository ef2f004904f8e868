package schema

import (
	"fmt"
	"strconv"

	"github.com/go-json-experiment/json"
	"github.com/spf13/afero"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/migration"
)

const (
	OpCreateStore = "createStore"
	OpDeleteStore = "deleteStore"
	OpCreateIndex = "createIndex"
	OpDeleteIndex = "deleteIndex"
	OpPut         = "put"
)

// Schema is a declarative migration file:
//
//	{
//	  "version": 2,
//	  "migrations": {
//	    "1": [{"op": "createStore", "name": "users", "keyPath": "id"}],
//	    "2": [{"op": "createIndex", "store": "users", "name": "by_age", "keyPath": "age"}]
//	  }
//	}
type Schema struct {
	Version    int                     `json:"version"`
	Migrations map[string][]*Operation `json:"migrations"`
}

type Operation struct {
	Op            string `json:"op"`
	Store         string `json:"store,omitempty"`
	Name          string `json:"name,omitempty"`
	KeyPath       string `json:"keyPath,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	MultiEntry    bool   `json:"multiEntry,omitempty"`
	Value         any    `json:"value,omitempty"`
	Key           any    `json:"key,omitempty"`
}

func Parse(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads and parses the schema file at filename.
func Load(fs afero.Fs, filename string) (*Schema, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

func (s *Schema) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("schema version must be positive, got %d", s.Version)
	}
	for key, ops := range s.Migrations {
		if key != migration.Before && key != migration.After {
			v, err := strconv.Atoi(key)
			if err != nil || v <= 0 {
				return fmt.Errorf("migration '%s': not a version", key)
			}
			if v > s.Version {
				return fmt.Errorf("migration '%s': beyond schema version %d", key, s.Version)
			}
		}
		for i, op := range ops {
			if err := op.validate(); err != nil {
				return fmt.Errorf("migration '%s', operation %d: %w", key, i, err)
			}
		}
	}
	return nil
}

func (op *Operation) validate() error {
	switch op.Op {
	case OpCreateStore, OpDeleteStore:
		if op.Name == "" {
			return fmt.Errorf("%s: name is required", op.Op)
		}
	case OpCreateIndex:
		if op.Store == "" || op.Name == "" || op.KeyPath == "" {
			return fmt.Errorf("%s: store, name and keyPath are required", op.Op)
		}
	case OpDeleteIndex:
		if op.Store == "" || op.Name == "" {
			return fmt.Errorf("%s: store and name are required", op.Op)
		}
	case OpPut:
		if op.Store == "" {
			return fmt.Errorf("%s: store is required", op.Op)
		}
	default:
		return fmt.Errorf("unknown operation '%s'", op.Op)
	}
	return nil
}

// Map compiles the migrations into steps.
func (s *Schema) Map() migration.Map {
	m := migration.Map{}
	for key, ops := range s.Migrations {
		m[key] = step(ops)
	}
	return m
}

func step(ops []*Operation) migration.Step {
	return func(c *migration.Context, next func(err error)) {
		var apply func(i int)
		apply = func(i int) {
			if i >= len(ops) {
				next(nil)
				return
			}
			op := ops[i]
			c.Log.Debug().Str("op", op.Op).Str("store", op.Store).Str("name", op.Name).Msg("schema operation")

			if op.Op == OpPut {
				store, err := c.Tx.ObjectStore(op.Store)
				if err != nil {
					next(err)
					return
				}
				r := store.Put(op.Value, op.Key)
				r.OnSuccess = func(any) { apply(i + 1) }
				r.OnError = next
				return
			}

			if err := op.apply(c.Tx); err != nil {
				next(fmt.Errorf("%s '%s': %w", op.Op, op.Name, err))
				return
			}
			apply(i + 1)
		}
		apply(0)
	}
}

// apply runs the synchronous schema operations.
func (op *Operation) apply(tx *engine.Transaction) error {
	switch op.Op {
	case OpCreateStore:
		_, err := tx.CreateObjectStore(op.Name, engine.StoreOptions{KeyPath: op.KeyPath, AutoIncrement: op.AutoIncrement})
		return err
	case OpDeleteStore:
		return tx.DeleteObjectStore(op.Name)
	}

	store, err := tx.ObjectStore(op.Store)
	if err != nil {
		return err
	}
	switch op.Op {
	case OpCreateIndex:
		_, err = store.CreateIndex(op.Name, op.KeyPath, engine.IndexOptions{Unique: op.Unique, MultiEntry: op.MultiEntry})
	case OpDeleteIndex:
		err = store.DeleteIndex(op.Name)
	default:
		err = fmt.Errorf("unknown operation '%s'", op.Op)
	}
	return err
}
