package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/fulldump/box"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/fulldump/unikv/api"
	"github.com/fulldump/unikv/configuration"
	"github.com/fulldump/unikv/database"
	"github.com/fulldump/unikv/driver"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/log"
	"github.com/fulldump/unikv/schema"
	"github.com/fulldump/unikv/service"
	"github.com/fulldump/unikv/storage"
)

var VERSION = "dev"

// Backend builds the storage backend named by the configuration.
func Backend(c *configuration.Configuration, fs afero.Fs) (storage.Backend, error) {
	switch c.Backend {
	case configuration.BackendMemory, "":
		return storage.NewMemoryBackend(), nil
	case configuration.BackendJSONLog:
		b, err := storage.NewJSONBackend(fs, c.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case configuration.BackendPebble:
		b, err := storage.NewPebbleBackend(path.Join(c.Dir, "pebble"), nil)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend '%s'", c.Backend)
}

// NewDatabase builds the engine and the database of the configuration. The
// database owns nothing: close the returned engine after the database.
func NewDatabase(c *configuration.Configuration, fs afero.Fs) (*database.Database, func() error, error) {

	backend, err := Backend(c, fs)
	if err != nil {
		return nil, nil, err
	}

	logger := log.Engine
	native, err := driver.NewNative(c.Variant, engine.Options{
		Backend:     backend,
		LockTimeout: c.LockTimeout,
		QuotaBytes:  c.QuotaBytes,
		Logger:      &logger,
	})
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	closer := native.(interface{ Close() error })

	config := database.NewConfig(c.Database)
	config.AutoClose = c.AutoClose
	config.Native = native
	if c.Schema != "" {
		s, err := schema.Load(fs, c.Schema)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		config.Version = s.Version
		config.Migration = s.Map()
	}

	db, err := database.NewDatabase(config)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	return db, closer.Close, nil
}

// Bootstrap prepares the server of the configuration. start blocks until
// stop is called or something fails.
func Bootstrap(c *configuration.Configuration) (start func() error, stop func(), err error) {

	fs := afero.NewOsFs()
	db, closeEngine, err := NewDatabase(c, fs)
	if err != nil {
		return nil, nil, err
	}

	b := api.Serve(api.Build(service.NewService(db), VERSION), db, log.API, c.EnableCompression)

	s := &http.Server{
		Addr:    c.HttpAddr,
		Handler: box.Box2Http(b),
	}

	stop = func() {
		db.Stop()
		s.Shutdown(context.Background())
	}

	start = func() error {

		ln, err := net.Listen("tcp", c.HttpAddr)
		if err != nil {
			closeEngine()
			return err
		}
		log.Root.Info().Str("addr", c.HttpAddr).Msg("listening")

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
		defer close(signalChan)
		defer signal.Stop(signalChan)
		go func() {
			sig, ok := <-signalChan
			if !ok {
				return
			}
			log.Root.Info().Str("signal", sig.String()).Msg("signal received")
			stop()
		}()

		g := &errgroup.Group{}
		g.Go(func() error {
			err := db.Start()
			if err != nil {
				s.Shutdown(context.Background())
			}
			return err
		})
		g.Go(func() error {
			err := s.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			db.Stop()
			return err
		})

		err = g.Wait()
		return errors.Join(err, closeEngine())
	}

	return start, stop, nil
}
