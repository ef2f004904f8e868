package database

import (
	"github.com/rs/zerolog"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/log"
	"github.com/fulldump/unikv/migration"
	"github.com/fulldump/unikv/request"
)

type Config struct {
	// Name of the database inside the engine
	Name string
	// Version the database is upgraded to when opened
	Version int
	// Migration steps applied while upgrading
	Migration migration.Map
	// AutoClose releases the connection once no transaction is running
	AutoClose bool
	// TransactionMode of Do
	TransactionMode engine.Mode

	// OnError receives the failures nobody listened to. When nil, a failure
	// inside a transaction aborts it and fails the transaction handle, and
	// anywhere else it is raised.
	OnError request.ErrorHandler
	// OnBlocked is told when other connections delay an upgrade
	OnBlocked func(oldVersion, newVersion int)

	// Native engine (*engine.Factory, *engine.LegacyFactory or
	// *engine.EventedFactory). A memory only engine is created when nil.
	Native any

	Log zerolog.Logger
}

func NewConfig(name string) *Config {
	return &Config{
		Name:            name,
		Version:         1,
		Migration:       migration.Map{},
		AutoClose:       true,
		TransactionMode: engine.ReadWrite,
		Log:             log.Database,
	}
}

// Raise panics with err. It is the last resort for unhandled failures that
// happen outside any transaction.
func Raise(err *request.Error) {
	panic(err)
}

// LogErrors returns a policy that logs unhandled failures and lets the work
// go on.
func LogErrors(logger zerolog.Logger) request.ErrorHandler {
	return func(err *request.Error) {
		logger.Error().
			Err(err.Err).
			Str("component", err.Component).
			Str("operation", err.Operation).
			Interface("args", err.Args).
			Interface("key", err.Key).
			Str("code", string(request.CodeOf(err))).
			Msg("unhandled failure")
	}
}
