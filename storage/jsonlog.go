package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const jsonLogExtension = ".jsonl"

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// JSONBackend keeps one append-only JSON lines command log per database
// inside Dir.
type JSONBackend struct {
	Fs  afero.Fs
	Dir string
}

func NewJSONBackend(fs afero.Fs, dir string) (*JSONBackend, error) {
	err := fs.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	return &JSONBackend{Fs: fs, Dir: dir}, nil
}

func (b *JSONBackend) filename(name string) string {
	return path.Join(b.Dir, url.PathEscape(name)+jsonLogExtension)
}

func (b *JSONBackend) Open(name string) (Storage, error) {
	return NewJSONStorage(b.Fs, b.filename(name))
}

func (b *JSONBackend) Remove(name string) error {
	err := b.Fs.Remove(b.filename(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *JSONBackend) List() ([]string, error) {
	entries, err := afero.ReadDir(b.Fs, b.Dir)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), jsonLogExtension) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), jsonLogExtension))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (b *JSONBackend) Close() error {
	return nil
}

// --- JSONStorage ---

type JSONStorage struct {
	Filename     string
	fs           afero.Fs
	file         afero.File
	buffer       *bufio.Writer
	commandQueue chan *bytes.Buffer
	closed       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	errMutex sync.Mutex
	err      error
}

func NewJSONStorage(fs afero.Fs, filename string) (*JSONStorage, error) {
	s := &JSONStorage{
		Filename:     filename,
		fs:           fs,
		commandQueue: make(chan *bytes.Buffer, 1000),
		closed:       make(chan struct{}),
	}

	var err error
	s.file, err = fs.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("open file for write: %w", err)
	}

	s.buffer = bufio.NewWriterSize(s.file, 1024*1024)

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

func (s *JSONStorage) setErr(err error) {
	if err == nil {
		return
	}
	s.errMutex.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMutex.Unlock()
}

func (s *JSONStorage) getErr() error {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	return s.err
}

func (s *JSONStorage) write(buf *bytes.Buffer) {
	_, err := s.buffer.Write(buf.Bytes())
	s.setErr(err)
	bufferPool.Put(buf)
}

func (s *JSONStorage) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case buf := <-s.commandQueue:
			s.write(buf)
			if len(s.commandQueue) == 0 {
				s.setErr(s.buffer.Flush())
			}

		case <-s.closed:
			// Drain queue
			for {
				select {
				case buf := <-s.commandQueue:
					s.write(buf)
				default:
					return
				}
			}
		}
	}
}

// Persist serializes the whole batch before queueing it so that a batch is
// written contiguously.
func (s *JSONStorage) Persist(commands []*Command) error {
	if err := s.getErr(); err != nil {
		return fmt.Errorf("storage failed: %w", err)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, command := range commands {
		err := enc.Encode(command)
		if err != nil {
			bufferPool.Put(buf)
			return fmt.Errorf("json encode command: %w", err)
		}
	}

	select {
	case <-s.closed:
		bufferPool.Put(buf)
		return fmt.Errorf("storage closed")
	default:
	}

	select {
	case s.commandQueue <- buf:
		return nil
	case <-s.closed:
		bufferPool.Put(buf)
		return fmt.Errorf("storage closed")
	}
}

func (s *JSONStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
	s.setErr(s.buffer.Flush())
	err := s.file.Close()
	if err != nil {
		return err
	}
	return s.getErr()
}

func (s *JSONStorage) Load() (<-chan LoadedCommand, <-chan error) {
	out := make(chan LoadedCommand, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		f, err := s.fs.Open(s.Filename)
		if os.IsNotExist(err) {
			return
		}
		if err != nil {
			errChan <- err
			return
		}
		defer f.Close()

		concurrency := runtime.NumCPU()

		scanner := bufio.NewScanner(f)
		const maxCapacity = 16 * 1024 * 1024
		scanner.Buffer(make([]byte, 64*1024), maxCapacity)

		type line struct {
			seq  int
			data []byte
		}
		lines := make(chan line, 100)
		results := make(chan LoadedCommand, 100)

		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range lines {
					cmd := &Command{}
					err := json.Unmarshal(item.data, cmd)
					results <- LoadedCommand{
						Seq: item.seq,
						Cmd: cmd,
						Err: err,
					}
				}
			}()
		}

		// Feeder
		go func() {
			seq := 0
			for scanner.Scan() {
				if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
					continue
				}
				data := make([]byte, len(scanner.Bytes()))
				copy(data, scanner.Bytes())
				lines <- line{seq, data}
				seq++
			}
			close(lines)
			if err := scanner.Err(); err != nil {
				results <- LoadedCommand{Seq: -1, Err: err}
			}
			wg.Wait()
			close(results)
		}()

		// Re-assembler
		pending := map[int]LoadedCommand{}
		nextSeq := 0
		failed := false

		for res := range results {
			if failed {
				continue // keep draining so workers can exit
			}
			if res.Err != nil {
				errChan <- fmt.Errorf("decode command %d: %w", res.Seq, res.Err)
				failed = true
				continue
			}

			if res.Seq != nextSeq {
				pending[res.Seq] = res
				continue
			}

			out <- res
			nextSeq++
			for {
				cmd, ok := pending[nextSeq]
				if !ok {
					break
				}
				delete(pending, nextSeq)
				out <- cmd
				nextSeq++
			}
		}
	}()

	return out, errChan
}
