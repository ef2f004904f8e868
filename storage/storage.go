package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	CommandVersion     = "version"
	CommandCreateStore = "create_store"
	CommandDeleteStore = "delete_store"
	CommandCreateIndex = "create_index"
	CommandDeleteIndex = "delete_index"
	CommandGenerator   = "generator"
	CommandPut         = "put"
	CommandDelete      = "delete"
	CommandClear       = "clear"
)

type Command struct {
	Name      string          `json:"name"`
	Uuid      string          `json:"uuid"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewCommand(name string, payload any) (*Command, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json encode payload: %w", err)
	}

	return &Command{
		Name:      name,
		Uuid:      uuid.New().String(),
		Timestamp: time.Now().UnixNano(),
		Payload:   b,
	}, nil
}

type VersionPayload struct {
	Version int `json:"version"`
}

type StorePayload struct {
	Name          string `json:"name"`
	KeyPath       string `json:"keyPath,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
}

type IndexPayload struct {
	Store      string `json:"store"`
	Name       string `json:"name"`
	KeyPath    string `json:"keyPath,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	MultiEntry bool   `json:"multiEntry,omitempty"`
}

type GeneratorPayload struct {
	Store   string  `json:"store"`
	Current float64 `json:"current"`
}

// RecordPayload is shared by put, delete and clear. Key is a keys.Marshal
// encoded key.
type RecordPayload struct {
	Store string          `json:"store"`
	Key   json.RawMessage `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Storage persists the committed commands of one database.
type Storage interface {
	// Persist appends the commands of one committed transaction.
	Persist(commands []*Command) error
	// Load streams back, in order, the commands needed to rebuild the database.
	Load() (<-chan LoadedCommand, <-chan error)
	Close() error
}

type LoadedCommand struct {
	Seq int
	Cmd *Command
	Err error
}

// Backend hands out one Storage per database name.
type Backend interface {
	Open(name string) (Storage, error)
	Remove(name string) error
	List() ([]string, error)
	Close() error
}
