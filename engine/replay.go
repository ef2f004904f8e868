package engine

import (
	"encoding/json"
	"fmt"

	"github.com/fulldump/unikv/keys"
	"github.com/fulldump/unikv/storage"
)

// replay rebuilds d from the persisted commands. It returns how many
// commands were applied.
func (d *dbData) replay(s storage.Storage) (int, error) {
	commands, errs := s.Load()

	n := 0
	var failure error
	for loaded := range commands {
		if failure != nil {
			continue // drain
		}
		err := d.apply(loaded.Cmd)
		if err != nil {
			failure = fmt.Errorf("command %d (%s): %w", loaded.Seq, loaded.Cmd.Name, err)
			continue
		}
		n++
	}
	if failure != nil {
		return n, failure
	}
	if err := <-errs; err != nil {
		return n, err
	}

	return n, nil
}

func (d *dbData) apply(command *storage.Command) error {
	switch command.Name {
	case storage.CommandVersion:
		p := &storage.VersionPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		d.version = p.Version

	case storage.CommandCreateStore:
		p := &storage.StorePayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		d.stores[p.Name] = newStoreData(p.Name, p.KeyPath, p.AutoIncrement)

	case storage.CommandDeleteStore:
		p := &storage.StorePayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, exists := d.stores[p.Name]
		if !exists {
			return nil
		}
		store.records.Ascend(func(e *entry) bool {
			d.size -= int64(len(e.value))
			return true
		})
		delete(d.stores, p.Name)

	case storage.CommandCreateIndex:
		p := &storage.IndexPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		index := newIndexData(p.Name, p.KeyPath, p.Unique, p.MultiEntry)
		if err := index.build(store, false); err != nil {
			return err
		}
		store.indexes[p.Name] = index

	case storage.CommandDeleteIndex:
		p := &storage.IndexPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		delete(store.indexes, p.Name)

	case storage.CommandGenerator:
		p := &storage.GeneratorPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		store.current = p.Current

	case storage.CommandPut:
		p := &storage.RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		key, err := keys.Unmarshal(p.Key)
		if err != nil {
			return err
		}
		if existing := store.get(key); existing != nil {
			store.remove(existing)
			d.size -= int64(len(existing.value))
		}
		store.insert(&entry{key: key, primary: key, value: p.Value})
		d.size += int64(len(p.Value))

	case storage.CommandDelete:
		p := &storage.RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		key, err := keys.Unmarshal(p.Key)
		if err != nil {
			return err
		}
		if existing := store.get(key); existing != nil {
			store.remove(existing)
			d.size -= int64(len(existing.value))
		}

	case storage.CommandClear:
		p := &storage.RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		store, err := d.store(p.Store)
		if err != nil {
			return err
		}
		store.records.Ascend(func(e *entry) bool {
			d.size -= int64(len(e.value))
			return true
		})
		store.records.Clear(false)
		for _, index := range store.indexes {
			index.entries.Clear(false)
		}

	default:
		return fmt.Errorf("unknown command '%s'", command.Name)
	}

	return nil
}

func (d *dbData) store(name string) (*storeData, error) {
	store, exists := d.stores[name]
	if !exists {
		return nil, fmt.Errorf("object store '%s' not found", name)
	}
	return store, nil
}
