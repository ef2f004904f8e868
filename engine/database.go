package engine

import (
	"sort"
)

// Database is one open connection to a named database.
type Database struct {
	factory      *Factory
	data         *dbData
	version      int
	legacy       bool
	closePending bool
	closed       bool
	upgrading    *Transaction
	txs          map[*Transaction]struct{}

	// OnVersionChange is called when another connection needs to upgrade
	// or delete the database. Closing the connection unblocks it.
	OnVersionChange func(oldVersion, newVersion int)
	// OnClose is called once the connection is fully closed.
	OnClose func()
}

func newDatabase(f *Factory, d *dbData, legacy bool) *Database {
	return &Database{
		factory: f,
		data:    d,
		version: d.version,
		legacy:  legacy,
		txs:     map[*Transaction]struct{}{},
	}
}

func (db *Database) Name() string {
	return db.data.name
}

func (db *Database) Version() int {
	return db.version
}

func (db *Database) ObjectStoreNames() []string {
	return db.data.storeNames()
}

// Transaction starts a transaction over stores. It becomes active once no
// earlier transaction holds a conflicting scope.
func (db *Database) Transaction(stores []string, mode Mode) (*Transaction, error) {
	if db.closePending {
		return nil, newError(InvalidStateError, "connection is closing")
	}
	if db.upgrading != nil {
		return nil, newError(InvalidStateError, "a version change transaction is running")
	}
	if mode != ReadOnly && mode != ReadWrite {
		return nil, newError(DataError, "invalid transaction mode '%s'", mode)
	}
	if len(stores) == 0 {
		return nil, newError(InvalidStateError, "transaction scope is empty")
	}

	scope := map[string]bool{}
	for _, name := range stores {
		if _, exists := db.data.stores[name]; !exists {
			return nil, newError(NotFoundError, "object store '%s' not found", name)
		}
		scope[name] = true
	}

	tx := newTransaction(db, scope, mode)
	tx.enqueue()

	return tx, nil
}

// Close waits for the running transactions of the connection and then
// releases it.
func (db *Database) Close() {
	if db.closePending {
		return
	}
	db.closePending = true
	db.factory.log.Debug().Str("database", db.data.name).Msg("close")
	db.maybeFinalizeClose()
}

func (db *Database) maybeFinalizeClose() {
	if !db.closePending || db.closed || len(db.txs) > 0 {
		return
	}
	db.closed = true
	delete(db.data.connections, db)
	if db.OnClose != nil {
		db.OnClose()
	}
	db.data.checkWaiter()
}

func (db *Database) Closed() bool {
	return db.closed
}

func sortedScope(scope map[string]bool) []string {
	names := make([]string, 0, len(scope))
	for name := range scope {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
