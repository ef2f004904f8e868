package storage

// MemoryBackend keeps nothing: databases live as long as the engine does.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Open(name string) (Storage, error) {
	return memoryStorage{}, nil
}

func (m *MemoryBackend) Remove(name string) error {
	return nil
}

func (m *MemoryBackend) List() ([]string, error) {
	return nil, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

type memoryStorage struct{}

func (memoryStorage) Persist(commands []*Command) error {
	return nil
}

func (memoryStorage) Load() (<-chan LoadedCommand, <-chan error) {
	out := make(chan LoadedCommand)
	errChan := make(chan error)
	close(out)
	close(errChan)
	return out, errChan
}

func (memoryStorage) Close() error {
	return nil
}
