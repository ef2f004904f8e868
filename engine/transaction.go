package engine

import (
	"time"

	"github.com/fulldump/unikv/storage"
)

type Mode string

const (
	ReadOnly      Mode = "readonly"
	ReadWrite     Mode = "readwrite"
	VersionChange Mode = "versionchange"
)

type txState int

const (
	txPending txState = iota
	txActive
	txCommitting
	txFinished
)

// Transaction executes its requests one at a time in issue order and commits
// by itself once no request is pending and no hold is active.
type Transaction struct {
	db        *Database
	data      *dbData
	scope     map[string]bool // nil means every store
	mode      Mode
	state     txState
	requests  []*Request
	scheduled bool
	holds     int
	undo      []func()
	commands  []*storage.Command
	err       error
	timer     *time.Timer
	onStart   func()
	onFinish  func(err error)

	OnComplete func()
	OnAbort    func(err error)
}

func newTransaction(db *Database, scope map[string]bool, mode Mode) *Transaction {
	return &Transaction{
		db:    db,
		data:  db.data,
		scope: scope,
		mode:  mode,
	}
}

func (tx *Transaction) Mode() Mode {
	return tx.mode
}

func (tx *Transaction) Database() *Database {
	return tx.db
}

// Error is the reason of the abort, nil while running or after a commit.
func (tx *Transaction) Error() error {
	return tx.err
}

func (tx *Transaction) Finished() bool {
	return tx.state == txFinished
}

func (tx *Transaction) ObjectStoreNames() []string {
	if tx.scope == nil {
		return tx.data.storeNames()
	}
	return sortedScope(tx.scope)
}

func (tx *Transaction) ObjectStore(name string) (*ObjectStore, error) {
	if tx.state == txFinished {
		return nil, newError(InvalidStateError, "transaction has finished")
	}
	if tx.scope != nil && !tx.scope[name] {
		return nil, newError(NotFoundError, "object store '%s' is not in the transaction scope", name)
	}
	s, exists := tx.data.stores[name]
	if !exists {
		return nil, newError(NotFoundError, "object store '%s' not found", name)
	}
	return &ObjectStore{tx: tx, data: s}, nil
}

// Hold keeps the transaction from committing until release is called, even
// if it runs out of requests.
func (tx *Transaction) Hold() (release func()) {
	tx.holds++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		tx.holds--
		tx.kick()
	}
}

// Abort rolls back every change and fails the pending requests.
func (tx *Transaction) Abort() error {
	if tx.state == txFinished || tx.state == txCommitting {
		return newError(InvalidStateError, "transaction has finished")
	}
	tx.abort(newError(AbortError, "transaction was aborted"))
	return nil
}

func (tx *Transaction) enqueue() {
	d := tx.data
	d.transactions = append(d.transactions, tx)
	tx.db.txs[tx] = struct{}{}

	f := tx.db.factory
	if timeout := f.options.LockTimeout; timeout > 0 {
		tx.timer = time.AfterFunc(timeout, func() {
			f.loop.Post(func() {
				if tx.state == txPending {
					tx.abort(newError(TimeoutError, "could not acquire transaction scope after %s", timeout))
				}
			})
		})
	}

	f.loop.Post(func() { f.schedule(d) })
}

// schedule starts every pending transaction that does not overlap an
// earlier unfinished one.
func (f *Factory) schedule(d *dbData) {
	startable := []*Transaction{}
	for i, tx := range d.transactions {
		if tx.state != txPending {
			continue
		}
		blocked := false
		for _, prev := range d.transactions[:i] {
			if conflicts(prev, tx) {
				blocked = true
				break
			}
		}
		if !blocked {
			startable = append(startable, tx)
		}
	}

	for _, tx := range startable {
		tx.start()
	}
}

func conflicts(a, b *Transaction) bool {
	if a.mode == VersionChange || b.mode == VersionChange {
		return true
	}
	if a.mode == ReadOnly && b.mode == ReadOnly {
		return false
	}
	for name := range a.scope {
		if b.scope[name] {
			return true
		}
	}
	return false
}

func (tx *Transaction) start() {
	if tx.state != txPending {
		return
	}
	tx.state = txActive
	if tx.timer != nil {
		tx.timer.Stop()
	}
	if tx.onStart != nil {
		tx.onStart()
	}
	tx.kick()
}

func (tx *Transaction) kick() {
	if tx.state != txActive || tx.scheduled {
		return
	}
	tx.scheduled = true
	tx.db.factory.loop.Post(tx.step)
}

// step runs one request, or commits when there is nothing left to do.
func (tx *Transaction) step() {
	tx.scheduled = false
	if tx.state != txActive {
		return
	}

	if len(tx.requests) > 0 {
		r := tx.requests[0]
		tx.requests[0] = nil
		tx.requests = tx.requests[1:]
		result, err := r.op()
		r.settle(result, err)
		tx.kick()
		return
	}

	if tx.holds == 0 {
		tx.commit()
	}
}

func (tx *Transaction) issue(source any, write bool, op func() (any, *Error)) *Request {
	r := &Request{
		Source:      source,
		Transaction: tx,
		ReadyState:  RequestPending,
		op:          op,
	}

	if tx.state == txCommitting || tx.state == txFinished {
		tx.db.factory.loop.Post(func() {
			r.settle(nil, newError(TransactionInactiveError, "transaction has finished"))
		})
		return r
	}

	if write && tx.mode == ReadOnly {
		r.op = func() (any, *Error) {
			return nil, newError(ReadOnlyError, "transaction is read only")
		}
	}

	tx.requests = append(tx.requests, r)
	tx.kick()

	return r
}

func (tx *Transaction) record(name string, payload any) {
	command, err := storage.NewCommand(name, payload)
	if err != nil {
		tx.db.factory.log.Error().Err(err).Str("command", name).Msg("encode command")
		return
	}
	tx.commands = append(tx.commands, command)
}

func (tx *Transaction) commit() {
	tx.state = txCommitting

	if len(tx.commands) > 0 && tx.data.storage != nil {
		err := tx.data.storage.Persist(tx.commands)
		if err != nil {
			tx.abort(newError(UnknownError, "persist transaction: %s", err.Error()))
			return
		}
	}

	tx.undo = nil
	tx.commands = nil
	tx.finish()
}

func (tx *Transaction) abort(err error) {
	if tx.state == txFinished {
		return
	}
	tx.state = txFinished
	tx.err = err

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.commands = nil

	pending := tx.requests
	tx.requests = nil
	for _, r := range pending {
		r.settle(nil, newError(AbortError, "transaction was aborted"))
	}

	tx.finish()
}

func (tx *Transaction) finish() {
	tx.state = txFinished
	if tx.timer != nil {
		tx.timer.Stop()
	}

	d := tx.data
	for i, t := range d.transactions {
		if t == tx {
			d.transactions = append(d.transactions[:i:i], d.transactions[i+1:]...)
			break
		}
	}
	delete(tx.db.txs, tx)
	if tx.db.upgrading == tx {
		tx.db.upgrading = nil
	}

	f := tx.db.factory
	if tx.err == nil {
		f.log.Debug().Str("database", d.name).Str("mode", string(tx.mode)).Msg("commit")
		if tx.OnComplete != nil {
			tx.OnComplete()
		}
	} else {
		f.log.Debug().Str("database", d.name).Str("mode", string(tx.mode)).Err(tx.err).Msg("abort")
		if tx.OnAbort != nil {
			tx.OnAbort(tx.err)
		}
	}

	if tx.onFinish != nil {
		tx.onFinish(tx.err)
	}

	tx.db.maybeFinalizeClose()
	f.loop.Post(func() { f.schedule(d) })
}

func (tx *Transaction) checkVersionChange() *Error {
	if tx.mode != VersionChange {
		return newError(InvalidStateError, "schema changes need a version change transaction")
	}
	if tx.state != txActive {
		return newError(TransactionInactiveError, "transaction is not active")
	}
	return nil
}

func (tx *Transaction) checkWrite() *Error {
	if tx.state == txFinished || tx.state == txCommitting {
		return newError(TransactionInactiveError, "transaction has finished")
	}
	if tx.mode == ReadOnly {
		return newError(ReadOnlyError, "transaction is read only")
	}
	return nil
}
