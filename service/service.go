package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/fulldump/unikv/criteria"
	"github.com/fulldump/unikv/database"
	"github.com/fulldump/unikv/engine"
)

type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{
		db: db,
	}
}

type Status struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Variant string `json:"variant"`
	Version int    `json:"version"`
}

type Store struct {
	Name          string   `json:"name"`
	KeyPath       string   `json:"keyPath,omitempty"`
	AutoIncrement bool     `json:"autoIncrement"`
	Indexes       []string `json:"indexes"`
	Total         int      `json:"total"`
}

func (s *Service) Status() *Status {
	config := s.db.Config()
	return &Status{
		Name:    config.Name,
		Status:  s.db.GetStatus(),
		Variant: s.db.Driver().Variant(),
		Version: config.Version,
	}
}

// exists fails with ErrorStoreNotFound when the database has no store name.
func (s *Service) exists(ctx context.Context, name string) error {
	names, err := s.db.ObjectStoreNames(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return ErrorStoreNotFound
	}
	return nil
}

func (s *Service) ListStores(ctx context.Context) ([]*Store, error) {
	names, err := s.db.ObjectStoreNames(ctx)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, names)
}

func (s *Service) GetStore(ctx context.Context, name string) (*Store, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	stores, err := s.describe(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	return stores[0], nil
}

func (s *Service) describe(ctx context.Context, names []string) ([]*Store, error) {
	result := []*Store{}
	if len(names) == 0 {
		return result, nil
	}

	totals, err := s.db.View(ctx, names, func(tx *database.Tx) any {
		counts := make([]any, len(names))
		for i, name := range names {
			store := tx.Store(name)
			native := store.Native()
			result = append(result, &Store{
				Name:          name,
				KeyPath:       native.KeyPath(),
				AutoIncrement: native.AutoIncrement(),
				Indexes:       native.IndexNames(),
			})
			counts[i] = store.Count(nil)
		}
		return tx.All(counts...)
	})
	if err != nil {
		return nil, err
	}

	for i, total := range totals.([]any) {
		result[i].Total = total.(int)
	}
	return result, nil
}

// Insert adds every value, all or nothing, and returns their keys.
func (s *Service) Insert(ctx context.Context, store string, values []any) ([]any, error) {
	if err := s.exists(ctx, store); err != nil {
		return nil, err
	}

	result, err := s.db.Update(ctx, []string{store}, func(tx *database.Tx) any {
		adds := make([]any, len(values))
		for i, value := range values {
			adds[i] = tx.Store(store).Add(value, nil)
		}
		return tx.All(adds...)
	})
	if err != nil {
		return nil, err
	}
	return result.([]any), nil
}

func (s *Service) Get(ctx context.Context, store string, key any) (any, error) {
	if err := s.exists(ctx, store); err != nil {
		return nil, err
	}

	value, err := s.db.View(ctx, []string{store}, func(tx *database.Tx) any {
		return tx.Store(store).Get(key)
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, &engine.Error{Code: engine.NotFoundError, Message: fmt.Sprintf("no value with key %v", key)}
	}
	return value, nil
}

func (s *Service) Find(ctx context.Context, store string, c *criteria.Criteria) ([]any, error) {
	if err := s.exists(ctx, store); err != nil {
		return nil, err
	}

	result, err := s.db.View(ctx, []string{store}, func(tx *database.Tx) any {
		return tx.Store(store).Query(c)
	})
	if err != nil {
		return nil, err
	}
	return result.([]any), nil
}

// Count counts the values in the key range of c, on c.Index when set.
func (s *Service) Count(ctx context.Context, store string, c *criteria.Criteria) (int, error) {
	if err := s.exists(ctx, store); err != nil {
		return 0, err
	}

	result, err := s.db.View(ctx, []string{store}, func(tx *database.Tx) any {
		if c != nil && c.Index != "" {
			return tx.Store(store).Index(c.Index).Count(c)
		}
		return tx.Store(store).Count(c)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Remove deletes the values under query, a key or the key range of a
// criteria (everything when unbounded), and returns how many were removed.
func (s *Service) Remove(ctx context.Context, store string, query any) (int, error) {
	if err := s.exists(ctx, store); err != nil {
		return 0, err
	}

	clear := false
	if c, ok := query.(*criteria.Criteria); ok && c.Range() == nil {
		clear = true
	}

	result, err := s.db.Update(ctx, []string{store}, func(tx *database.Tx) any {
		st := tx.Store(store)
		removed := st.Count(query)
		if clear {
			return tx.All(removed, st.Clear())
		}
		return tx.All(removed, st.Delete(query))
	})
	if err != nil {
		return 0, err
	}
	return result.([]any)[0].(int), nil
}

// Patch merges patch into the value under key and returns the result.
func (s *Service) Patch(ctx context.Context, store string, key, patch any) (any, error) {
	if err := s.exists(ctx, store); err != nil {
		return nil, err
	}

	return s.db.Update(ctx, []string{store}, func(tx *database.Tx) any {
		return tx.Store(store).Patch(key, patch)
	})
}
