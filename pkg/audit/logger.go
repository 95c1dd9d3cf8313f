package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newtron-network/eline/pkg/util"
)

// Logger is an audit trail backend.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig bounds the live file. A zero MaxSize never rotates and a
// zero MaxBackups keeps every rotated file.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// FileLogger appends events to a JSON-lines file. Rotated files are named
// <path>.<timestamp> and remain visible to Query.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu      sync.RWMutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileLogger appends to path, creating it and its directory as needed.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log writes an event, rotating first when the file has reached MaxSize.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.path)
	}
	if l.rotation.MaxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.rotation.MaxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("rotating audit log: %w", err)
			}
		}
	}
	return l.encoder.Encode(event)
}

// Query returns matching events oldest first. Rotated files are read
// before the live one, and Offset and Limit apply after filtering.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []*Event
	for _, path := range append(l.backups(), l.path) {
		found, err := readEvents(path, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
	}
	return page(events, filter.Offset, filter.Limit), nil
}

// page never returns nil so an empty result encodes as [].
func page(events []*Event, offset, limit int) []*Event {
	offset = min(max(offset, 0), len(events))
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	if len(events) == 0 {
		return []*Event{}
	}
	return events
}

func readEvents(path string, filter Filter) ([]*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.WithField("file", path).Warnf("audit: skipping malformed entry at line %d: %v", line, err)
			continue
		}
		if filter.Match(&event) {
			events = append(events, &event)
		}
	}
	return events, scanner.Err()
}

// Close is idempotent; Log fails afterwards.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := l.path + "." + time.Now().UTC().Format("20060102-150405.000000000")
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}

	if keep := l.rotation.MaxBackups; keep > 0 {
		backups := l.backups()
		for _, old := range backups[:max(len(backups)-keep, 0)] {
			if err := os.Remove(old); err != nil {
				util.WithField("file", old).Warnf("audit: pruning rotated log: %v", err)
			}
		}
	}
	return nil
}

// backups lists rotated files oldest first; the suffix sorts chronologically.
func (l *FileLogger) backups() []string {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// sink boxes a Logger so a nil interface can be stored atomically.
type sink struct {
	Logger
}

var current atomic.Pointer[sink]

// SetDefaultLogger installs the process-wide trail; nil disables auditing.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		current.Store(nil)
		return
	}
	current.Store(&sink{logger})
}

// Log appends to the default trail. It is a no-op until one is installed.
func Log(event *Event) error {
	if s := current.Load(); s != nil {
		return s.Log(event)
	}
	return nil
}

// Query reads the default trail.
func Query(filter Filter) ([]*Event, error) {
	if s := current.Load(); s != nil {
		return s.Query(filter)
	}
	return []*Event{}, nil
}
