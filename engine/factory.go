package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fulldump/unikv/log"
	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/storage"
)

type Options struct {
	// Backend persists committed transactions, defaults to memory only
	Backend storage.Backend
	// Loop every operation and callback runs on, a new one is started if nil
	Loop *loop.Loop
	// LockTimeout aborts transactions that wait longer than this for their
	// scope, zero waits forever
	LockTimeout time.Duration
	// QuotaBytes limits the size of the stored values of each database, zero
	// is unlimited
	QuotaBytes int64
	Logger     *zerolog.Logger
}

// Factory is the upgrade-event flavour of the engine: Open reports schema
// upgrades through OnUpgradeNeeded.
//
// Every method of the engine (Factory, Database, Transaction, ObjectStore,
// Index, Cursor) must be called from the loop goroutine.
type Factory struct {
	loop      *loop.Loop
	ownLoop   bool
	backend   storage.Backend
	options   Options
	log       zerolog.Logger
	databases map[string]*dbData
	queues    map[string][]func(done func())
}

func NewFactory(options Options) *Factory {
	f := &Factory{
		loop:      options.Loop,
		backend:   options.Backend,
		options:   options,
		log:       log.Engine,
		databases: map[string]*dbData{},
		queues:    map[string][]func(done func()){},
	}
	if f.loop == nil {
		f.loop = loop.New()
		f.ownLoop = true
	}
	if f.backend == nil {
		f.backend = storage.NewMemoryBackend()
	}
	if options.Logger != nil {
		f.log = *options.Logger
	}
	return f
}

func (f *Factory) Loop() *loop.Loop {
	return f.loop
}

// Close releases every storage and the backend. It must be called from
// outside the loop.
func (f *Factory) Close() error {
	var lastErr error
	f.loop.Call(func() {
		for _, d := range f.databases {
			if d.storage == nil {
				continue
			}
			err := d.storage.Close()
			if err != nil {
				lastErr = err
			}
		}
		f.databases = map[string]*dbData{}
		err := f.backend.Close()
		if err != nil {
			lastErr = err
		}
	})
	if f.ownLoop {
		f.loop.Close()
	}
	return lastErr
}

// enqueue serializes open, version change and delete operations per name.
func (f *Factory) enqueue(name string, op func(done func())) {
	f.queues[name] = append(f.queues[name], op)
	if len(f.queues[name]) == 1 {
		f.loop.Post(func() { f.runQueue(name) })
	}
}

func (f *Factory) runQueue(name string) {
	queue := f.queues[name]
	if len(queue) == 0 {
		return
	}
	once := false
	queue[0](func() {
		if once {
			return
		}
		once = true
		rest := f.queues[name][1:]
		if len(rest) == 0 {
			delete(f.queues, name)
			return
		}
		f.queues[name] = rest
		f.loop.Post(func() { f.runQueue(name) })
	})
}

func (f *Factory) load(name string) (*dbData, *Error) {
	if d, exists := f.databases[name]; exists {
		return d, nil
	}

	s, err := f.backend.Open(name)
	if err != nil {
		return nil, newError(UnknownError, "open storage: %s", err.Error())
	}

	d := newDBData(name)
	d.storage = s

	t0 := time.Now()
	n, err := d.replay(s)
	if err != nil {
		s.Close()
		return nil, newError(UnknownError, "load database '%s': %s", name, err.Error())
	}
	f.log.Debug().Str("database", name).Int("commands", n).
		Dur("took", time.Since(t0)).Msg("database loaded")

	f.databases[name] = d
	return d, nil
}

type OpenRequest struct {
	OnUpgradeNeeded func(db *Database, tx *Transaction, oldVersion, newVersion int)
	OnSuccess       func(db *Database)
	OnError         func(err error)
	OnBlocked       func(oldVersion, newVersion int)

	Result      *Database
	Error       error
	Transaction *Transaction
}

func (r *OpenRequest) fail(err error) {
	r.Error = err
	if r.OnError != nil {
		r.OnError(err)
	}
}

// Open connects to the database name at version, creating or upgrading it
// when needed. A zero version opens the current one.
func (f *Factory) Open(name string, version int) *OpenRequest {
	req := &OpenRequest{}

	f.enqueue(name, func(done func()) {
		if version < 0 {
			req.fail(newError(DataError, "version must be positive, got %d", version))
			done()
			return
		}

		d, err := f.load(name)
		if err != nil {
			req.fail(err)
			done()
			return
		}

		if version == 0 {
			version = d.version
			if version == 0 {
				version = 1
			}
		}

		if version < d.version {
			req.fail(newError(VersionError, "requested version (%d) is less than the existing version (%d)", version, d.version))
			done()
			return
		}

		conn := newDatabase(f, d, false)

		if version == d.version {
			d.connections[conn] = struct{}{}
			f.log.Debug().Str("database", name).Int("version", version).Msg("open")
			req.Result = conn
			if req.OnSuccess != nil {
				req.OnSuccess(conn)
			}
			done()
			return
		}

		oldVersion := d.version
		f.waitForConnections(d, nil, oldVersion, version, req.OnBlocked, func() {
			d.connections[conn] = struct{}{}
			f.log.Debug().Str("database", name).Int("old_version", oldVersion).
				Int("new_version", version).Msg("upgrade")

			f.upgrade(conn, version, func(tx *Transaction) {
				req.Result = conn
				req.Transaction = tx
				if req.OnUpgradeNeeded != nil {
					req.OnUpgradeNeeded(conn, tx, oldVersion, version)
				}
			}, func(err error) {
				req.Transaction = nil
				if err != nil {
					conn.closePending = true
					conn.maybeFinalizeClose()
					req.Result = nil
					req.fail(newError(AbortError, "version change transaction was aborted: %s", err.Error()))
					done()
					return
				}
				if req.OnSuccess != nil {
					req.OnSuccess(conn)
				}
				done()
			})
		})
	})

	return req
}

// waitForConnections notifies the open connections of d (except one) of the
// version change and calls then once all of them are closed.
func (f *Factory) waitForConnections(d *dbData, except *Database, oldVersion, newVersion int, onBlocked func(oldVersion, newVersion int), then func()) {
	others := []*Database{}
	for conn := range d.connections {
		if conn != except {
			others = append(others, conn)
		}
	}

	for _, conn := range others {
		if !conn.closePending && conn.OnVersionChange != nil {
			conn.OnVersionChange(oldVersion, newVersion)
		}
	}

	blocked := false
	for _, conn := range others {
		if !conn.closePending {
			blocked = true
			break
		}
	}
	if blocked {
		f.log.Debug().Str("database", d.name).Msg("blocked")
		if onBlocked != nil {
			onBlocked(oldVersion, newVersion)
		}
	}

	d.waiter = &waiter{except: except, then: then}
	d.checkWaiter()
}

// upgrade runs a version change transaction on conn. onStart receives the
// transaction once it is active, onFinish its outcome.
func (f *Factory) upgrade(conn *Database, newVersion int, onStart func(tx *Transaction), onFinish func(err error)) {
	d := conn.data
	tx := newTransaction(conn, nil, VersionChange)

	tx.onStart = func() {
		oldVersion := d.version
		d.version = newVersion
		conn.version = newVersion
		tx.undo = append(tx.undo, func() {
			d.version = oldVersion
			conn.version = oldVersion
		})
		tx.record(storage.CommandVersion, storage.VersionPayload{Version: newVersion})
		onStart(tx)
	}
	tx.onFinish = onFinish

	conn.upgrading = tx
	tx.enqueue()
}

type DeleteRequest struct {
	OnSuccess func(oldVersion int)
	OnError   func(err error)
	OnBlocked func(oldVersion, newVersion int)
}

// DeleteDatabase waits for every connection to close, then drops the
// database and its persisted state.
func (f *Factory) DeleteDatabase(name string) *DeleteRequest {
	req := &DeleteRequest{}

	f.enqueue(name, func(done func()) {
		d, err := f.load(name)
		if err != nil {
			if req.OnError != nil {
				req.OnError(err)
			}
			done()
			return
		}

		oldVersion := d.version
		f.waitForConnections(d, nil, oldVersion, 0, req.OnBlocked, func() {
			delete(f.databases, name)
			if d.storage != nil {
				d.storage.Close()
			}
			err := f.backend.Remove(name)
			if err != nil {
				if req.OnError != nil {
					req.OnError(newError(UnknownError, "remove storage: %s", err.Error()))
				}
				done()
				return
			}
			f.log.Debug().Str("database", name).Msg("deleted")
			if req.OnSuccess != nil {
				req.OnSuccess(oldVersion)
			}
			done()
		})
	})

	return req
}

type DatabaseInfo struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Databases lists the databases with a version, persisted or in memory.
func (f *Factory) Databases(onSuccess func(infos []DatabaseInfo), onError func(err error)) {
	f.loop.Post(func() {
		names, err := f.backend.List()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("list databases: %w", err))
			}
			return
		}

		seen := map[string]bool{}
		for _, name := range names {
			seen[name] = true
		}
		for name := range f.databases {
			seen[name] = true
		}

		infos := []DatabaseInfo{}
		for name := range seen {
			d, err := f.load(name)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			if d.version == 0 {
				continue
			}
			infos = append(infos, DatabaseInfo{Name: name, Version: d.version})
		}
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].Name < infos[j].Name
		})

		if onSuccess != nil {
			onSuccess(infos)
		}
	})
}
