package engine

import (
	"github.com/fulldump/unikv/loop"
)

// LegacyFactory is the explicit version-change flavour of the engine:
// connections open at the stored version and upgrades are requested with
// SetVersion. Its object stores cannot open key cursors.
type LegacyFactory struct {
	factory *Factory
}

func NewLegacyFactory(options Options) *LegacyFactory {
	return &LegacyFactory{factory: NewFactory(options)}
}

func (f *LegacyFactory) Loop() *loop.Loop {
	return f.factory.Loop()
}

func (f *LegacyFactory) Close() error {
	return f.factory.Close()
}

// LegacyDatabase is a connection opened by a LegacyFactory.
type LegacyDatabase struct {
	*Database
}

// OpenCurrent connects to name at its stored version. Databases that do not
// exist yet are opened at version 0.
func (f *LegacyFactory) OpenCurrent(name string, onSuccess func(db *LegacyDatabase), onError func(err error)) {
	core := f.factory
	core.enqueue(name, func(done func()) {
		d, err := core.load(name)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			done()
			return
		}

		conn := newDatabase(core, d, true)
		d.connections[conn] = struct{}{}
		core.log.Debug().Str("database", name).Int("version", d.version).Msg("open current")
		if onSuccess != nil {
			onSuccess(&LegacyDatabase{Database: conn})
		}
		done()
	})
}

// SetVersion upgrades the database this connection points to. Once every
// other connection is closed and the running transactions of this one are
// done, onTransaction receives the version change transaction. onFinish
// follows its OnComplete or OnAbort with the outcome, nil once committed.
func (db *LegacyDatabase) SetVersion(version int, onTransaction func(tx *Transaction), onFinish func(err error), onError func(err error), onBlocked func()) {
	core := db.factory
	d := db.data
	core.enqueue(d.name, func(done func()) {
		fail := func(err error) {
			if onError != nil {
				onError(err)
			}
			done()
		}

		if db.closePending {
			fail(newError(InvalidStateError, "connection is closing"))
			return
		}
		if version <= 0 {
			fail(newError(DataError, "version must be positive, got %d", version))
			return
		}
		if version < d.version {
			fail(newError(VersionError, "requested version (%d) is less than the existing version (%d)", version, d.version))
			return
		}

		oldVersion := d.version
		core.waitForConnections(d, db.Database, oldVersion, version, func(int, int) {
			if onBlocked != nil {
				onBlocked()
			}
		}, func() {
			core.log.Debug().Str("database", d.name).Int("old_version", oldVersion).
				Int("new_version", version).Msg("set version")
			core.upgrade(db.Database, version, onTransaction, func(err error) {
				if onFinish != nil {
					onFinish(err)
				}
				done()
			})
		})
	})
}

func (f *LegacyFactory) DeleteDatabase(name string) *DeleteRequest {
	return f.factory.DeleteDatabase(name)
}

func (f *LegacyFactory) Databases(onSuccess func(infos []DatabaseInfo), onError func(err error)) {
	f.factory.Databases(onSuccess, onError)
}
