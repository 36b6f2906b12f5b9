package events

import (
	"encoding/json"
	"os"
	"sync"
)

// FileSink appends events as JSONL. Write errors are swallowed so a full
// disk never impacts the operation that emitted the event.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

var _ Sink = (*FileSink)(nil)

// NewFileSink opens (or creates) the JSONL file at path. An empty path
// yields a nil sink, which MultiSink skips.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Emit(e Event) {
	if s == nil || s.file == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.file.Write(append(b, '\n'))
}

// Close releases the underlying file.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
