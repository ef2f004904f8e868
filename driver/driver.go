package driver

import (
	"errors"
	"fmt"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
)

const (
	VariantUpgrade = "upgrade"
	VariantLegacy  = "legacy"
	VariantEvented = "evented"
)

var ErrUnsupported = errors.New("unsupported storage engine")

// Handlers receive the outcome of Open. Upgrade is called with the version
// change transaction active; Success follows once it has committed.
type Handlers struct {
	Upgrade func(db *engine.Database, tx *engine.Transaction, oldVersion, newVersion int)
	Success func(db *engine.Database)
	Error   func(err error)
	Blocked func(oldVersion, newVersion int)
}

// Driver is the open/upgrade contract shared by every engine variant. All
// methods but Loop and Close must be called from the loop.
type Driver interface {
	Variant() string
	Loop() *loop.Loop

	// Open connects to name at version (0 means the current one), upgrading
	// it when it is older.
	Open(name string, version int, h Handlers)
	DeleteDatabase(name string, onSuccess func(oldVersion int), onError func(err error), onBlocked func(oldVersion, newVersion int))
	Databases(onSuccess func(infos []engine.DatabaseInfo), onError func(err error))

	// KeyCursors tells whether object stores can walk keys only.
	KeyCursors() bool

	Close() error
}

type native interface {
	Loop() *loop.Loop
	Close() error
	Databases(onSuccess func(infos []engine.DatabaseInfo), onError func(err error))
}

type upgradeEventNative interface {
	native
	Open(name string, version int) *engine.OpenRequest
	DeleteDatabase(name string) *engine.DeleteRequest
}

type versionChangeNative interface {
	native
	OpenCurrent(name string, onSuccess func(db *engine.LegacyDatabase), onError func(err error))
	DeleteDatabase(name string) *engine.DeleteRequest
}

type eventedNative interface {
	native
	OpenEvented(name string, version int) *engine.EventRequest
	DeleteEvented(name string) *engine.EventRequest
}

// Detect probes the capabilities of n once and returns the matching
// adapter.
func Detect(n any) (Driver, error) {
	switch e := n.(type) {
	case eventedNative:
		return &evented{native: e}, nil
	case upgradeEventNative:
		return &upgradeEvent{native: e}, nil
	case versionChangeNative:
		return &versionChange{native: e}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, n)
}

// NewNative builds an engine of the given variant.
func NewNative(variant string, options engine.Options) (any, error) {
	switch variant {
	case VariantUpgrade, "":
		return engine.NewFactory(options), nil
	case VariantLegacy:
		return engine.NewLegacyFactory(options), nil
	case VariantEvented:
		return engine.NewEventedFactory(options), nil
	}
	return nil, fmt.Errorf("%w: variant '%s'", ErrUnsupported, variant)
}

func deleteWith(r *engine.DeleteRequest, onSuccess func(oldVersion int), onError func(err error), onBlocked func(oldVersion, newVersion int)) {
	r.OnSuccess = onSuccess
	r.OnError = onError
	r.OnBlocked = onBlocked
}

type upgradeEvent struct {
	native upgradeEventNative
}

func (d *upgradeEvent) Variant() string { return VariantUpgrade }

func (d *upgradeEvent) Loop() *loop.Loop { return d.native.Loop() }

func (d *upgradeEvent) KeyCursors() bool { return true }

func (d *upgradeEvent) Close() error { return d.native.Close() }

func (d *upgradeEvent) Open(name string, version int, h Handlers) {
	r := d.native.Open(name, version)
	r.OnUpgradeNeeded = h.Upgrade
	r.OnSuccess = h.Success
	r.OnError = h.Error
	r.OnBlocked = h.Blocked
}

func (d *upgradeEvent) DeleteDatabase(name string, onSuccess func(oldVersion int), onError func(err error), onBlocked func(oldVersion, newVersion int)) {
	deleteWith(d.native.DeleteDatabase(name), onSuccess, onError, onBlocked)
}

func (d *upgradeEvent) Databases(onSuccess func(infos []engine.DatabaseInfo), onError func(err error)) {
	d.native.Databases(onSuccess, onError)
}

// versionChange opens at the current version and upgrades explicitly.
type versionChange struct {
	native versionChangeNative
}

func (d *versionChange) Variant() string { return VariantLegacy }

func (d *versionChange) Loop() *loop.Loop { return d.native.Loop() }

func (d *versionChange) KeyCursors() bool { return false }

func (d *versionChange) Close() error { return d.native.Close() }

func (d *versionChange) Open(name string, version int, h Handlers) {
	fail := func(err error) {
		if h.Error != nil {
			h.Error(err)
		}
	}
	succeed := func(db *engine.Database) {
		if h.Success != nil {
			h.Success(db)
		}
	}

	d.native.OpenCurrent(name, func(db *engine.LegacyDatabase) {
		current := db.Version()
		if version == 0 {
			version = current
			if version == 0 {
				version = 1
			}
		}

		if version < current {
			db.Close()
			fail(&engine.Error{
				Code:    engine.VersionError,
				Message: fmt.Sprintf("requested version (%d) is less than the existing version (%d)", version, current),
			})
			return
		}

		if version == current {
			succeed(db.Database)
			return
		}

		db.SetVersion(version, func(tx *engine.Transaction) {
			if h.Upgrade != nil {
				h.Upgrade(db.Database, tx, current, version)
			}
		}, func(err error) {
			if err == nil {
				succeed(db.Database)
				return
			}
			db.Close()
			fail(&engine.Error{
				Code:    engine.AbortError,
				Message: "version change transaction was aborted: " + err.Error(),
			})
		}, func(err error) {
			db.Close()
			fail(err)
		}, func() {
			if h.Blocked != nil {
				h.Blocked(current, version)
			}
		})
	}, fail)
}

func (d *versionChange) DeleteDatabase(name string, onSuccess func(oldVersion int), onError func(err error), onBlocked func(oldVersion, newVersion int)) {
	deleteWith(d.native.DeleteDatabase(name), onSuccess, onError, onBlocked)
}

func (d *versionChange) Databases(onSuccess func(infos []engine.DatabaseInfo), onError func(err error)) {
	d.native.Databases(onSuccess, onError)
}

// evented listens to the request events.
type evented struct {
	native eventedNative
}

func (d *evented) Variant() string { return VariantEvented }

func (d *evented) Loop() *loop.Loop { return d.native.Loop() }

func (d *evented) KeyCursors() bool { return true }

func (d *evented) Close() error { return d.native.Close() }

func (d *evented) Open(name string, version int, h Handlers) {
	r := d.native.OpenEvented(name, version)
	r.AddEventListener(engine.EventUpgradeNeeded, func(e *engine.Event) {
		if h.Upgrade != nil {
			db, _ := e.Target.Result.(*engine.Database)
			h.Upgrade(db, e.Target.Transaction, e.OldVersion, e.NewVersion)
		}
	})
	r.AddEventListener(engine.EventSuccess, func(e *engine.Event) {
		if h.Success != nil {
			db, _ := e.Target.Result.(*engine.Database)
			h.Success(db)
		}
	})
	r.AddEventListener(engine.EventError, func(e *engine.Event) {
		if h.Error != nil {
			h.Error(e.Target.Error)
		}
	})
	r.AddEventListener(engine.EventBlocked, func(e *engine.Event) {
		if h.Blocked != nil {
			h.Blocked(e.OldVersion, e.NewVersion)
		}
	})
}

func (d *evented) DeleteDatabase(name string, onSuccess func(oldVersion int), onError func(err error), onBlocked func(oldVersion, newVersion int)) {
	r := d.native.DeleteEvented(name)
	r.AddEventListener(engine.EventSuccess, func(e *engine.Event) {
		if onSuccess != nil {
			onSuccess(e.OldVersion)
		}
	})
	r.AddEventListener(engine.EventError, func(e *engine.Event) {
		if onError != nil {
			onError(e.Target.Error)
		}
	})
	r.AddEventListener(engine.EventBlocked, func(e *engine.Event) {
		if onBlocked != nil {
			onBlocked(e.OldVersion, e.NewVersion)
		}
	})
}

func (d *evented) Databases(onSuccess func(infos []engine.DatabaseInfo), onError func(err error)) {
	d.native.Databases(onSuccess, onError)
}
