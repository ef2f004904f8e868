package configuration

import (
	"time"
)

const (
	BackendMemory  = "memory"
	BackendJSONLog = "jsonlog"
	BackendPebble  = "pebble"
)

type Configuration struct {
	HttpAddr          string        `usage:"HTTP address"`
	Dir               string        `usage:"data directory"`
	Backend           string        `usage:"storage backend: memory, jsonlog or pebble"`
	Variant           string        `usage:"native engine variant: upgrade, legacy or evented"`
	Database          string        `usage:"database name"`
	Schema            string        `usage:"schema file with the migrations, empty means no stores"`
	AutoClose         bool          `usage:"close the connection when idle"`
	LockTimeout       time.Duration `json:",format:units" usage:"abort transactions waiting longer than this for their stores, zero waits forever"`
	QuotaBytes        int64         `usage:"maximum size of the stored values, zero is unlimited"`
	EnableCompression bool          `usage:"gzip responses when the client accepts it"`
	LogLevel          string        `usage:"log level: debug, info, warn or error"`
	LogJSON           bool          `usage:"log as JSON instead of console lines"`
	Version           bool          `usage:"show version and exit"`
	ShowConfig        bool          `usage:"print config"`
}

func Default() Configuration {
	return Configuration{
		HttpAddr:          "127.0.0.1:8080",
		Dir:               "data",
		Backend:           BackendJSONLog,
		Variant:           "upgrade",
		Database:          "default",
		AutoClose:         true,
		EnableCompression: true,
		LogLevel:          "info",
	}
}
