package engine

import (
	"errors"
	"testing"
	"time"

	. "github.com/fulldump/biff"
	"github.com/spf13/afero"

	"github.com/fulldump/unikv/keys"
	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/storage"
)

// await runs f on the loop and waits for its first resolve.
func await(l *loop.Loop, f func(resolve func(any))) any {
	ch := make(chan any, 1)
	l.Post(func() {
		f(func(v any) {
			select {
			case ch <- v:
			default:
			}
		})
	})
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		panic("timeout waiting for the loop")
	}
}

func setupUsers(db *Database, tx *Transaction, oldVersion, newVersion int) {
	users, err := tx.CreateObjectStore("users", StoreOptions{KeyPath: "id"})
	if err != nil {
		panic(err)
	}
	users.CreateIndex("by_age", "age", IndexOptions{})
	users.CreateIndex("by_email", "email", IndexOptions{Unique: true})
	users.CreateIndex("by_tag", "tags", IndexOptions{MultiEntry: true})
	tx.CreateObjectStore("counters", StoreOptions{AutoIncrement: true})
}

func openUsers(f *Factory, name string) *Database {
	result := await(f.Loop(), func(resolve func(any)) {
		req := f.Open(name, 1)
		req.OnUpgradeNeeded = setupUsers
		req.OnSuccess = func(db *Database) { resolve(db) }
		req.OnError = func(err error) { resolve(err) }
	})
	db, ok := result.(*Database)
	if !ok {
		panic(result)
	}
	return db
}

// readwrite runs fn inside a readwrite transaction over stores and resolves
// with whatever fn passes to done, once the transaction completes.
func readwrite(db *Database, stores []string, fn func(tx *Transaction, done func(any))) any {
	return await(db.factory.Loop(), func(resolve func(any)) {
		tx, err := db.Transaction(stores, ReadWrite)
		if err != nil {
			resolve(err)
			return
		}
		var result any
		tx.OnComplete = func() { resolve(result) }
		tx.OnAbort = func(err error) { resolve(err) }
		fn(tx, func(v any) { result = v })
	})
}

func fillAges(db *Database, ages ...int) {
	readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		for i, age := range ages {
			users.Put(map[string]any{"id": i + 1, "age": age}, nil)
		}
	})
}

func collectPrimaryKeys(source interface {
	OpenCursor(query any, dir Direction) *Request
}, query any, dir Direction, done func(any)) {
	result := []any{}
	r := source.OpenCursor(query, dir)
	r.OnSuccess = func(v any) {
		if v == nil {
			done(result)
			return
		}
		c := v.(*Cursor)
		result = append(result, c.PrimaryKey)
		c.Continue()
	}
}

func TestFactory_OpenUpgradeCrud(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()

	db := openUsers(f, "shop")
	AssertEqual(db.Version(), 1)
	AssertEqual(db.ObjectStoreNames(), []string{"counters", "users"})

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1, "name": "Fulanez", "email": "a@x"}, nil)
		users.Add(map[string]any{"id": 2, "name": "Menganez", "email": "b@x"}, nil)
		got := users.Get(1)
		count := users.Count(nil)
		count.OnSuccess = func(n any) {
			done([]any{got.Result, n})
		}
	})

	AssertEqual(result, []any{
		map[string]any{"id": float64(1), "name": "Fulanez", "email": "a@x"},
		2,
	})
}

func TestFactory_AutoIncrement(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := readwrite(db, []string{"counters"}, func(tx *Transaction, done func(any)) {
		counters, _ := tx.ObjectStore("counters")
		generated := []any{}
		for _, v := range []string{"a", "b", "c"} {
			counters.Put(v, nil).OnSuccess = func(k any) {
				generated = append(generated, k)
				done(generated)
			}
		}
	})

	AssertEqual(result, []any{float64(1), float64(2), float64(3)})
}

func TestFactory_UniqueIndexAborts(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1, "email": "same"}, nil)
		users.Put(map[string]any{"id": 2, "email": "same"}, nil)
	})

	err, _ := result.(error)
	AssertTrue(errors.Is(err, ErrConstraint))

	// nothing was written
	count := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Count(nil).OnSuccess = func(n any) { done(n) }
	})
	AssertEqual(count, 0)
}

func TestFactory_HandledErrorDoesNotAbort(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1}, nil)
		r := users.Add(map[string]any{"id": 1}, nil)
		r.OnError = func(err error) {
			done(string(err.(*Error).Code))
		}
	})

	AssertEqual(result, "ConstraintError")
}

func TestCursor_Directions(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")
	fillAges(db, 10, 10, 20, 20, 30, 30)

	walk := func(dir Direction, query any) any {
		return readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
			users, _ := tx.ObjectStore("users")
			byAge, _ := users.Index("by_age")
			collectPrimaryKeys(byAge, query, dir, done)
		})
	}

	AssertEqual(walk(Next, nil), []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0})
	AssertEqual(walk(NextUnique, nil), []any{1.0, 3.0, 5.0})
	AssertEqual(walk(Prev, nil), []any{6.0, 5.0, 4.0, 3.0, 2.0, 1.0})
	AssertEqual(walk(PrevUnique, nil), []any{5.0, 3.0, 1.0})
	AssertEqual(walk(Next, keys.Bound(20, 30, false, true)), []any{3.0, 4.0})
	AssertEqual(walk(Prev, keys.LowerBound(10, true)), []any{6.0, 5.0, 4.0, 3.0})
	AssertEqual(walk(Next, 30), []any{5.0, 6.0})
	AssertEqual(walk(Next, 99), []any{})
}

func TestCursor_Advance(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")
	fillAges(db, 1, 2, 3, 4, 5)

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		seen := []any{}
		r := users.OpenCursor(nil, Next)
		r.OnSuccess = func(v any) {
			if v == nil {
				done(seen)
				return
			}
			c := v.(*Cursor)
			seen = append(seen, c.Key)
			c.Advance(2)
		}
	})

	AssertEqual(result, []any{1.0, 3.0, 5.0})
}

func TestCursor_MultiEntry(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1, "tags": []any{"a", "b", "a"}}, nil)
		users.Put(map[string]any{"id": 2, "tags": []any{"b"}}, nil)
		byTag, _ := users.Index("by_tag")
		byTag.Count("b").OnSuccess = func(n any) {
			byTag.Count(nil).OnSuccess = func(total any) {
				done([]any{n, total})
			}
		}
	})

	AssertEqual(result, []any{2, 3})
}

func TestTransaction_AbortUndoes(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")
	fillAges(db, 10)

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1, "age": 99}, nil)
		users.Put(map[string]any{"id": 2, "age": 20}, nil)
		users.Clear().OnSuccess = func(any) {
			tx.Abort()
		}
	})
	AssertTrue(errors.Is(result.(error), ErrAbort))

	ages := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.GetAll(nil, 0).OnSuccess = func(v any) { done(v) }
	})
	AssertEqual(ages, []any{map[string]any{"id": 1.0, "age": 10.0}})
}

func TestTransaction_ReadOnly(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := await(f.Loop(), func(resolve func(any)) {
		tx, _ := db.Transaction([]string{"users"}, ReadOnly)
		users, _ := tx.ObjectStore("users")
		r := users.Put(map[string]any{"id": 1}, nil)
		r.OnError = func(err error) { resolve(err) }
	})

	AssertTrue(errors.Is(result.(error), ErrReadOnly))
}

func TestTransaction_Inactive(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")

	result := await(f.Loop(), func(resolve func(any)) {
		tx, _ := db.Transaction([]string{"users"}, ReadWrite)
		users, _ := tx.ObjectStore("users")
		tx.OnComplete = func() {
			r := users.Get(1)
			r.OnError = func(err error) { resolve(err) }
		}
	})

	AssertTrue(errors.Is(result.(error), ErrTransactionInactive))
}

func TestTransaction_LockTimeout(t *testing.T) {
	f := NewFactory(Options{LockTimeout: 20 * time.Millisecond})
	defer f.Close()
	db := openUsers(f, "shop")

	result := await(f.Loop(), func(resolve func(any)) {
		first, _ := db.Transaction([]string{"users"}, ReadWrite)
		release := first.Hold()

		second, _ := db.Transaction([]string{"users"}, ReadWrite)
		second.OnAbort = func(err error) {
			release()
			resolve(err)
		}
	})

	AssertTrue(errors.Is(result.(error), ErrTimeout))
}

func TestTransaction_ReadersShare(t *testing.T) {
	f := NewFactory(Options{LockTimeout: time.Second})
	defer f.Close()
	db := openUsers(f, "shop")

	result := await(f.Loop(), func(resolve func(any)) {
		first, _ := db.Transaction([]string{"users"}, ReadOnly)
		release := first.Hold()

		second, _ := db.Transaction([]string{"users"}, ReadOnly)
		users, _ := second.ObjectStore("users")
		users.Count(nil).OnSuccess = func(n any) {
			release()
			resolve(n)
		}
	})

	AssertEqual(result, 0)
}

func TestFactory_Quota(t *testing.T) {
	f := NewFactory(Options{QuotaBytes: 64})
	defer f.Close()
	db := openUsers(f, "shop")

	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Put(map[string]any{"id": 1, "blob": "0123456789012345678901234567890123456789012345678901234567890123456789"}, nil)
	})

	AssertTrue(errors.Is(result.(error), ErrQuotaExceeded))
}

func TestFactory_VersionError(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()

	db := openUsers(f, "shop")
	await(f.Loop(), func(resolve func(any)) {
		db.Close()
		req := f.Open("shop", 3)
		req.OnSuccess = func(db *Database) {
			db.Close()
			resolve(db)
		}
	})

	result := await(f.Loop(), func(resolve func(any)) {
		req := f.Open("shop", 2)
		req.OnError = func(err error) { resolve(err) }
	})

	AssertTrue(errors.Is(result.(error), ErrVersion))
}

func TestFactory_Blocked(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()

	db := openUsers(f, "shop")

	events := await(f.Loop(), func(resolve func(any)) {
		events := []string{}
		db.OnVersionChange = func(oldVersion, newVersion int) {
			events = append(events, "versionchange")
		}
		req := f.Open("shop", 2)
		req.OnBlocked = func(oldVersion, newVersion int) {
			events = append(events, "blocked")
			db.Close()
		}
		req.OnUpgradeNeeded = func(db *Database, tx *Transaction, oldVersion, newVersion int) {
			events = append(events, "upgradeneeded")
		}
		req.OnSuccess = func(db *Database) {
			events = append(events, "success")
			resolve(events)
		}
	})

	AssertEqual(events, []string{"versionchange", "blocked", "upgradeneeded", "success"})
}

func TestFactory_UpgradeAbortRestores(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()

	result := await(f.Loop(), func(resolve func(any)) {
		req := f.Open("shop", 1)
		req.OnUpgradeNeeded = func(db *Database, tx *Transaction, oldVersion, newVersion int) {
			tx.CreateObjectStore("users", StoreOptions{})
			tx.Abort()
		}
		req.OnError = func(err error) { resolve(err) }
	})
	AssertTrue(errors.Is(result.(error), ErrAbort))

	versions := await(f.Loop(), func(resolve func(any)) {
		f.Databases(func(infos []DatabaseInfo) { resolve(infos) }, nil)
	})
	AssertEqual(versions, []DatabaseInfo{})
}

func TestLegacyFactory(t *testing.T) {
	f := NewLegacyFactory(Options{})
	defer f.Close()

	result := await(f.Loop(), func(resolve func(any)) {
		f.OpenCurrent("old", func(db *LegacyDatabase) {
			db.SetVersion(2, func(tx *Transaction) {
				tx.CreateObjectStore("items", StoreOptions{})
				tx.OnComplete = func() {
					tx, _ := db.Transaction([]string{"items"}, ReadOnly)
					items, _ := tx.ObjectStore("items")
					r := items.OpenKeyCursor(nil, Next)
					r.OnError = func(err error) {
						resolve([]any{db.Version(), err})
					}
				}
			}, nil, func(err error) { resolve(err) }, nil)
		}, func(err error) { resolve(err) })
	})

	values := result.([]any)
	AssertEqual(values[0], 2)
	AssertTrue(errors.Is(values[1].(error), ErrNonTransient))
}

func TestEventedFactory(t *testing.T) {
	f := NewEventedFactory(Options{})
	defer f.Close()

	result := await(f.Loop(), func(resolve func(any)) {
		events := []string{}
		r := f.OpenEvented("shop", 4)
		r.AddEventListener(EventUpgradeNeeded, func(e *Event) {
			events = append(events, e.Type)
			e.Target.Transaction.CreateObjectStore("items", StoreOptions{})
			AssertEqual(e.OldVersion, 0)
			AssertEqual(e.NewVersion, 4)
		})
		r.AddEventListener(EventSuccess, func(e *Event) {
			events = append(events, e.Type)
			resolve([]any{events, e.Target.Result.(*Database).ObjectStoreNames()})
		})
	})

	AssertEqual(result, []any{[]string{"upgradeneeded", "success"}, []string{"items"}})
}

func TestFactory_PersistAndReplay(t *testing.T) {
	fs := afero.NewMemMapFs()

	newFactory := func() *Factory {
		backend, err := storage.NewJSONBackend(fs, "/data")
		AssertNil(err)
		return NewFactory(Options{Backend: backend})
	}

	f := newFactory()
	db := openUsers(f, "shop")
	fillAges(db, 30, 40)
	readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		users.Delete(1)
	})
	AssertNil(f.Close())

	f = newFactory()
	defer f.Close()
	db = openUsers(f, "shop")
	result := readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
		users, _ := tx.ObjectStore("users")
		byAge, _ := users.Index("by_age")
		byAge.GetAll(nil, 0).OnSuccess = func(v any) { done(v) }
	})

	AssertEqual(result, []any{map[string]any{"id": 2.0, "age": 40.0}})
}

func TestFactory_DeleteDatabase(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()

	db := openUsers(f, "shop")
	result := await(f.Loop(), func(resolve func(any)) {
		db.OnVersionChange = func(oldVersion, newVersion int) {
			db.Close()
		}
		req := f.DeleteDatabase("shop")
		req.OnSuccess = func(oldVersion int) { resolve(oldVersion) }
	})
	AssertEqual(result, 1)

	infos := await(f.Loop(), func(resolve func(any)) {
		f.Databases(func(infos []DatabaseInfo) { resolve(infos) }, nil)
	})
	AssertEqual(infos, []DatabaseInfo{})
}

func TestCursor_LowerBoundOpenness(t *testing.T) {
	f := NewFactory(Options{})
	defer f.Close()
	db := openUsers(f, "shop")
	fillAges(db, 40, 50, 60, 70, 80, 90)

	walk := func(query any) any {
		return readwrite(db, []string{"users"}, func(tx *Transaction, done func(any)) {
			users, _ := tx.ObjectStore("users")
			collectPrimaryKeys(users, query, Next, done)
		})
	}

	AssertEqual(walk(keys.LowerBound(5, true)), []any{6.0})
	AssertEqual(walk(keys.LowerBound(5, false)), []any{5.0, 6.0})
	AssertEqual(walk(keys.UpperBound(2, true)), []any{1.0})
}
