package bootstrap

import (
	"context"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/spf13/afero"

	"github.com/fulldump/unikv/configuration"
	"github.com/fulldump/unikv/database"
	"github.com/fulldump/unikv/driver"
	"github.com/fulldump/unikv/storage"
)

const catalog = `{
	"version": 1,
	"migrations": {
		"1": [
			{"op": "createStore", "name": "products", "keyPath": "sku"},
			{"op": "put", "store": "products", "value": {"sku": "a-1", "name": "Anvil"}}
		]
	}
}`

func TestBackend(t *testing.T) {

	Alternative("Known backends", func(a *A) {
		c := configuration.Default()
		c.Dir = t.TempDir()

		for _, name := range []string{configuration.BackendMemory, configuration.BackendJSONLog, configuration.BackendPebble} {
			c.Backend = name
			b, err := Backend(&c, afero.NewOsFs())
			AssertNil(err)
			AssertNil(b.Close())
		}

		c.Backend = configuration.BackendMemory
		b, _ := Backend(&c, afero.NewOsFs())
		_, ok := b.(*storage.MemoryBackend)
		AssertTrue(ok)
	})

	Alternative("Unknown backend", func(a *A) {
		c := configuration.Default()
		c.Backend = "floppy"
		_, err := Backend(&c, afero.NewMemMapFs())
		AssertNotNil(err)
	})
}

func TestNewDatabase(t *testing.T) {

	Alternative("Schema migrations run on open", func(a *A) {
		fs := afero.NewMemMapFs()
		afero.WriteFile(fs, "/schema.json", []byte(catalog), 0644)

		for _, variant := range []string{driver.VariantUpgrade, driver.VariantLegacy, driver.VariantEvented} {
			c := configuration.Default()
			c.Backend = configuration.BackendMemory
			c.Variant = variant
			c.Database = "catalog"
			c.Schema = "/schema.json"

			db, closeEngine, err := NewDatabase(&c, fs)
			AssertNil(err)
			AssertEqual(db.Driver().Variant(), variant)

			value, err := db.View(context.Background(), []string{"products"}, func(tx *database.Tx) any {
				return tx.Store("products").Get("a-1")
			})
			AssertNil(err)
			AssertEqual(value, map[string]any{"sku": "a-1", "name": "Anvil"})

			AssertNil(db.Close())
			AssertNil(closeEngine())
		}
	})

	Alternative("Bad variant", func(a *A) {
		c := configuration.Default()
		c.Backend = configuration.BackendMemory
		c.Variant = "floppy"
		_, _, err := NewDatabase(&c, afero.NewMemMapFs())
		AssertNotNil(err)
	})

	Alternative("Missing schema", func(a *A) {
		c := configuration.Default()
		c.Backend = configuration.BackendMemory
		c.Schema = "/missing.json"
		_, _, err := NewDatabase(&c, afero.NewMemMapFs())
		AssertNotNil(err)
	})
}
