package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fulldump/unikv/driver"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/migration"
	"github.com/fulldump/unikv/request"
)

const (
	StatusOpening   = "opening"
	StatusOperating = "operating"
	StatusClosing   = "closing"
	StatusClosed    = "closed"
)

var (
	ErrClosed    = errors.New("database is closed")
	ErrDowngrade = errors.New("version downgrade is not supported")
)

// Database drives one named database of an engine: it opens it (running the
// pending migrations), runs transactions over it and releases the
// connection when idle.
type Database struct {
	config     *Config
	driver     driver.Driver
	loop       *loop.Loop
	log        zerolog.Logger
	onError    request.ErrorHandler
	ownsNative bool

	mutex  sync.Mutex
	status string

	// owned by the loop
	conn    *engine.Database
	waiting []func(conn *engine.Database, err error)
	active  int

	exit     chan struct{}
	exitOnce sync.Once
}

func NewDatabase(config *Config) (*Database, error) {
	if config.Version <= 0 {
		return nil, fmt.Errorf("version must be positive, got %d", config.Version)
	}
	if err := migration.Validate(config.Migration); err != nil {
		return nil, err
	}

	native := config.Native
	ownsNative := false
	if native == nil {
		native = engine.NewFactory(engine.Options{})
		ownsNative = true
	}

	drv, err := driver.Detect(native)
	if err != nil {
		return nil, err
	}

	onError := config.OnError
	if onError == nil {
		onError = Raise
	}

	db := &Database{
		config:     config,
		driver:     drv,
		loop:       drv.Loop(),
		log:        config.Log.With().Str("database", config.Name).Logger(),
		onError:    onError,
		ownsNative: ownsNative,
		status:     StatusOpening,
		exit:       make(chan struct{}),
	}

	db.log.Debug().Str("variant", drv.Variant()).Int("version", config.Version).Msg("new database")

	return db, nil
}

func (db *Database) GetStatus() string {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	return db.status
}

func (db *Database) setStatus(status string) {
	db.mutex.Lock()
	db.status = status
	db.mutex.Unlock()
}

func (db *Database) Config() *Config {
	return db.config
}

func (db *Database) Driver() driver.Driver {
	return db.driver
}

func (db *Database) Loop() *loop.Loop {
	return db.loop
}

func (db *Database) closed() bool {
	status := db.GetStatus()
	return status == StatusClosing || status == StatusClosed
}

// submit runs f on the loop, or fails h if the database is gone.
func (db *Database) submit(h *request.Handle, f func()) *request.Handle {
	if db.closed() || !db.loop.Post(f) {
		return request.Rejected(db.loop, h.Meta(), ErrClosed)
	}
	return h
}

// Open connects and brings the database to the configured version. The
// handle resolves with the native connection; with AutoClose it is released
// right after the listeners of the handle run.
func (db *Database) Open() *request.Handle {
	return db.openWith(nil)
}

func (db *Database) openWith(prepare func(h *request.Handle)) *request.Handle {
	h := request.New(db.loop, request.Meta{Component: "database", Operation: "open", Args: []any{db.config.Name, db.config.Version}}, db.onError)
	if prepare != nil {
		prepare(h)
	}
	return db.submit(h, func() {
		db.connect(func(conn *engine.Database, err error) {
			if err != nil {
				h.Fail(err)
				return
			}
			h.Resolve(conn)
			db.idle()
		})
	})
}

// connect calls then with the open connection, opening it first if needed.
// Runs on the loop.
func (db *Database) connect(then func(conn *engine.Database, err error)) {
	if db.closed() {
		then(nil, ErrClosed)
		return
	}
	if db.conn != nil {
		then(db.conn, nil)
		return
	}

	db.waiting = append(db.waiting, then)
	if len(db.waiting) > 1 {
		return
	}

	db.open(func(conn *engine.Database, err error) {
		if err == nil && db.closed() {
			conn.Close()
			return
		}
		if err == nil {
			db.conn = conn
			db.setStatus(StatusOperating)
			conn.OnVersionChange = func(oldVersion, newVersion int) {
				db.log.Info().Int("old_version", oldVersion).Int("new_version", newVersion).
					Msg("version change requested, closing connection")
				db.release(conn)
			}
		}

		waiting := db.waiting
		db.waiting = nil
		for _, w := range waiting {
			w(conn, err)
		}
	})
}

func (db *Database) open(then func(conn *engine.Database, err error)) {
	name, version := db.config.Name, db.config.Version
	var migrationErr error

	db.driver.Open(name, version, driver.Handlers{
		Upgrade: func(conn *engine.Database, tx *engine.Transaction, oldVersion, newVersion int) {
			if newVersion < oldVersion {
				migrationErr = ErrDowngrade
				tx.Abort()
				return
			}

			db.log.Info().Int("old_version", oldVersion).Int("new_version", newVersion).Msg("upgrade")

			release := tx.Hold()
			c := &migration.Context{DB: conn, Tx: tx, Log: db.log}
			migration.Migrate(c, db.config.Migration, oldVersion, newVersion, func(err error) {
				if err != nil {
					migrationErr = err
					tx.Abort()
				}
				release()
			})
		},
		Success: func(conn *engine.Database) {
			db.log.Debug().Int("version", conn.Version()).Msg("open")
			then(conn, nil)
		},
		Error: func(err error) {
			switch {
			case migrationErr != nil:
				err = fmt.Errorf("%w: %w", err, migrationErr)
			case errors.Is(err, engine.ErrVersion):
				err = fmt.Errorf("%w: %w", ErrDowngrade, err)
			}
			db.log.Error().Err(err).Msg("open")
			then(nil, err)
		},
		Blocked: func(oldVersion, newVersion int) {
			db.log.Warn().Int("old_version", oldVersion).Int("new_version", newVersion).Msg("upgrade blocked")
			if db.config.OnBlocked != nil {
				db.config.OnBlocked(oldVersion, newVersion)
			}
		},
	})
}

// release closes conn and forgets it.
func (db *Database) release(conn *engine.Database) {
	conn.Close()
	if db.conn == conn {
		db.conn = nil
	}
}

// idle auto closes the connection when nothing runs on it.
func (db *Database) idle() {
	if db.config.AutoClose && db.active == 0 && db.conn != nil {
		db.log.Debug().Msg("auto close")
		db.release(db.conn)
	}
}

// Transaction runs fn in a transaction over stores. The handle resolves
// with what fn returns once the transaction commits (the result of a
// returned *request.Handle is used instead of the handle itself) and fails
// when it aborts.
//
// Listeners must be registered before the loop runs the transaction, that
// is, from the loop itself. Use Update or View from other goroutines.
func (db *Database) Transaction(stores []string, mode engine.Mode, fn func(tx *Tx) any) *request.Handle {
	return db.transaction(stores, mode, fn, nil, nil)
}

// Do is Transaction with the configured transaction mode.
func (db *Database) Do(stores []string, fn func(tx *Tx) any) *request.Handle {
	return db.Transaction(stores, db.config.TransactionMode, fn)
}

func (db *Database) transaction(stores []string, mode engine.Mode, fn func(tx *Tx) any, prepare func(h *request.Handle), started func(tx *Tx)) *request.Handle {
	h := request.New(db.loop, request.Meta{Component: "database", Operation: "transaction", Args: []any{stores, string(mode)}}, db.onError)
	if prepare != nil {
		prepare(h)
	}

	return db.submit(h, func() {
		db.connect(func(conn *engine.Database, err error) {
			if err != nil {
				h.Fail(err)
				return
			}
			db.run(conn, stores, mode, fn, h, started)
		})
	})
}

func (db *Database) run(conn *engine.Database, stores []string, mode engine.Mode, fn func(tx *Tx) any, h *request.Handle, started func(tx *Tx)) {
	native, err := conn.Transaction(stores, mode)
	if err != nil {
		h.Fail(err)
		db.idle()
		return
	}

	db.active++
	tx := &Tx{db: db, native: native, keyCursors: db.driver.KeyCursors()}

	var result any
	native.OnComplete = func() {
		db.active--
		if returned, ok := result.(*request.Handle); ok {
			result, _ = returned.Result()
		}
		h.Resolve(result)
		db.idle()
	}
	native.OnAbort = func(err error) {
		db.active--
		if tx.raised != nil {
			err = tx.raised
		}
		db.log.Debug().Err(err).Strs("stores", stores).Msg("transaction aborted")
		h.Fail(err)
		db.idle()
	}

	if started != nil {
		started(tx)
	}

	result = tx.call(fn)
	if returned, ok := result.(*request.Handle); ok {
		returned.OnFailed(tx.raise)
	}
}

// Update runs fn in a read-write transaction and waits for it. Cancelling
// ctx aborts the transaction.
func (db *Database) Update(ctx context.Context, stores []string, fn func(tx *Tx) any) (any, error) {
	return db.wait(ctx, stores, engine.ReadWrite, fn)
}

// View runs fn in a read-only transaction and waits for it.
func (db *Database) View(ctx context.Context, stores []string, fn func(tx *Tx) any) (any, error) {
	return db.wait(ctx, stores, engine.ReadOnly, fn)
}

func (db *Database) wait(ctx context.Context, stores []string, mode engine.Mode, fn func(tx *Tx) any) (any, error) {
	var current *Tx
	var mutex sync.Mutex

	h := db.transaction(stores, mode, fn, func(h *request.Handle) {
		h.OnFailed(func(*request.Error) {})
	}, func(tx *Tx) {
		if ctx.Err() != nil {
			tx.native.Abort()
		}
		mutex.Lock()
		current = tx
		mutex.Unlock()
	})

	result, err := h.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		mutex.Lock()
		tx := current
		mutex.Unlock()
		if tx != nil {
			db.loop.Post(func() { tx.native.Abort() })
		}
	}
	return result, err
}

// StoreNames resolves with the object store names of the database.
func (db *Database) StoreNames() *request.Handle {
	return db.storeNames(nil)
}

// ObjectStoreNames is StoreNames waiting for the result.
func (db *Database) ObjectStoreNames(ctx context.Context) ([]string, error) {
	result, err := db.storeNames(func(h *request.Handle) {
		h.OnFailed(func(*request.Error) {})
	}).Wait(ctx)
	names, _ := result.([]string)
	return names, err
}

func (db *Database) storeNames(prepare func(h *request.Handle)) *request.Handle {
	h := request.New(db.loop, request.Meta{Component: "database", Operation: "storeNames"}, db.onError)
	if prepare != nil {
		prepare(h)
	}
	return db.submit(h, func() {
		db.connect(func(conn *engine.Database, err error) {
			if err != nil {
				h.Fail(err)
				return
			}
			h.Resolve(conn.ObjectStoreNames())
			db.idle()
		})
	})
}

// DeleteDatabase closes the connection and drops the database. The handle
// resolves with the version it had.
func (db *Database) DeleteDatabase() *request.Handle {
	h := request.New(db.loop, request.Meta{Component: "database", Operation: "delete", Args: []any{db.config.Name}}, db.onError)
	return db.submit(h, func() {
		if db.conn != nil {
			db.release(db.conn)
		}
		db.driver.DeleteDatabase(db.config.Name, func(oldVersion int) {
			db.log.Info().Int("old_version", oldVersion).Msg("deleted")
			h.Resolve(oldVersion)
		}, func(err error) {
			h.Fail(err)
		}, db.config.OnBlocked)
	})
}

// Start opens the database and blocks until Stop is called.
func (db *Database) Start() error {
	_, err := db.openWith(func(h *request.Handle) {
		h.OnFailed(func(*request.Error) {})
	}).Wait(context.Background())
	if err != nil {
		db.setStatus(StatusClosed)
		return err
	}

	<-db.exit
	return nil
}

// Stop is Close for Start.
func (db *Database) Stop() error {
	return db.Close()
}

// Close releases the connection. Transactions already running finish, new
// ones fail with ErrClosed. The engine is closed too when the database
// created it. It must not be called from the loop.
func (db *Database) Close() error {
	if db.closed() {
		return nil
	}
	db.setStatus(StatusClosing)
	defer db.exitOnce.Do(func() { close(db.exit) })

	db.loop.Call(func() {
		if db.conn != nil {
			db.release(db.conn)
		}
		for _, w := range db.waiting {
			w(nil, ErrClosed)
		}
		db.waiting = nil
	})

	var err error
	if db.ownsNative {
		err = db.driver.Close()
	}
	db.setStatus(StatusClosed)
	db.log.Debug().Msg("closed")

	return err
}
