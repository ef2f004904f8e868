package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var ErrClosed = errors.New("storage: backend is closed")

// Key layout, all under "db\x00<name>\x00":
//
//	v                       version
//	s\x00<store>            store definition
//	i\x00<store>\x00<index> index definition
//	g\x00<store>            key generator
//	r\x00<store>\x00<key>   record (key is keys.Marshal output)
//
// and "n\x00<name>" marks that the database exists.
const (
	sep            = "\x00"
	prefixDatabase = "db" + sep
	prefixName     = "n" + sep
)

type PebbleBackend struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

func NewPebbleBackend(path string, opts *pebble.Options) (*PebbleBackend, error) {
	if opts == nil {
		opts = &pebble.Options{
			Cache:        pebble.NewCache(64 * 1024 * 1024),
			MemTableSize: 32 * 1024 * 1024,
		}
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Open(name string) (Storage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	return &PebbleStorage{backend: p, name: name, prefix: prefixDatabase + name + sep}, nil
}

func (p *PebbleBackend) Remove(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	prefix := []byte(prefixDatabase + name + sep)
	err := batch.DeleteRange(prefix, prefixEnd(prefix), nil)
	if err != nil {
		return err
	}
	err = batch.Delete([]byte(prefixName+name), nil)
	if err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

func (p *PebbleBackend) List() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	names := []string{}
	err := p.scan([]byte(prefixName), func(key, value []byte) error {
		names = append(names, string(key[len(prefixName):]))
		return nil
	})

	return names, err
}

func (p *PebbleBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func (p *PebbleBackend) scan(prefix []byte, f func(key, value []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return fmt.Errorf("iterator value: %w", err)
		}
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		v := make([]byte, len(value))
		copy(v, value)
		err = f(key, v)
		if err != nil {
			iter.Close()
			return err
		}
	}

	return iter.Close()
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

// --- PebbleStorage ---

type PebbleStorage struct {
	backend *PebbleBackend
	name    string
	prefix  string
}

func (s *PebbleStorage) key(parts ...string) []byte {
	k := s.prefix
	for i, part := range parts {
		if i > 0 {
			k += sep
		}
		k += part
	}
	return []byte(k)
}

func (s *PebbleStorage) Persist(commands []*Command) error {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	if s.backend.closed {
		return ErrClosed
	}

	batch := s.backend.db.NewBatch()
	defer batch.Close()

	err := batch.Set([]byte(prefixName+s.name), nil, nil)
	if err != nil {
		return err
	}

	for _, command := range commands {
		err := s.apply(batch, command)
		if err != nil {
			return fmt.Errorf("apply %s: %w", command.Name, err)
		}
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStorage) apply(batch *pebble.Batch, command *Command) error {
	switch command.Name {
	case CommandVersion:
		return batch.Set(s.key("v"), command.Payload, nil)

	case CommandCreateStore:
		p := &StorePayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Set(s.key("s", p.Name), command.Payload, nil)

	case CommandDeleteStore:
		p := &StorePayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		if err := batch.Delete(s.key("s", p.Name), nil); err != nil {
			return err
		}
		if err := batch.Delete(s.key("g", p.Name), nil); err != nil {
			return err
		}
		indexes := s.key("i", p.Name, "")
		if err := batch.DeleteRange(indexes, prefixEnd(indexes), nil); err != nil {
			return err
		}
		records := s.key("r", p.Name, "")
		return batch.DeleteRange(records, prefixEnd(records), nil)

	case CommandCreateIndex:
		p := &IndexPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Set(s.key("i", p.Store, p.Name), command.Payload, nil)

	case CommandDeleteIndex:
		p := &IndexPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Delete(s.key("i", p.Store, p.Name), nil)

	case CommandGenerator:
		p := &GeneratorPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Set(s.key("g", p.Store), command.Payload, nil)

	case CommandPut:
		p := &RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Set(s.key("r", p.Store, string(p.Key)), command.Payload, nil)

	case CommandDelete:
		p := &RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		return batch.Delete(s.key("r", p.Store, string(p.Key)), nil)

	case CommandClear:
		p := &RecordPayload{}
		if err := json.Unmarshal(command.Payload, p); err != nil {
			return err
		}
		records := s.key("r", p.Store, "")
		return batch.DeleteRange(records, prefixEnd(records), nil)
	}

	return fmt.Errorf("unknown command '%s'", command.Name)
}

// Load rebuilds the command sequence from the current state: version, stores,
// indexes, generators and finally records.
func (s *PebbleStorage) Load() (<-chan LoadedCommand, <-chan error) {
	out := make(chan LoadedCommand, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		s.backend.mu.RLock()
		defer s.backend.mu.RUnlock()
		if s.backend.closed {
			errChan <- ErrClosed
			return
		}

		seq := 0
		emit := func(name string) func(key, value []byte) error {
			return func(key, value []byte) error {
				out <- LoadedCommand{
					Seq: seq,
					Cmd: &Command{Name: name, Payload: value},
				}
				seq++
				return nil
			}
		}

		value, closer, err := s.backend.db.Get(s.key("v"))
		if err != nil && err != pebble.ErrNotFound {
			errChan <- err
			return
		}
		if err == nil {
			v := make([]byte, len(value))
			copy(v, value)
			closer.Close()
			emit(CommandVersion)(nil, v)
		}

		scans := []struct {
			prefix []byte
			name   string
		}{
			{s.key("s", ""), CommandCreateStore},
			{s.key("i", ""), CommandCreateIndex},
			{s.key("g", ""), CommandGenerator},
			{s.key("r", ""), CommandPut},
		}
		for _, scan := range scans {
			err := s.backend.scan(scan.prefix, emit(scan.name))
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	return out, errChan
}

func (s *PebbleStorage) Close() error {
	return nil
}
