// Package logstore implements the circular log: a single bounded file
// with crash recovery, tail and follow readers, and a level filter.
package logstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level gates which lines reach the file.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) tag() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO "
	case LevelWarn:
		return "WARN "
	case LevelError:
		return "ERROR"
	default:
		return "INFO "
	}
}

const (
	marker       = "---^-OVERWRITE-^---\n"
	markerLen    = int64(len(marker))
	minFileCap   = 256
	lineBufMax   = 4096
	scanChunkCap = 65536
)

// Store is a single circular log file guarded by one mutex, mirroring
// every write to stderr inside the same critical section for line
// atomicity.
type Store struct {
	mu          chan struct{} // binary semaphore; see lock/unlock below
	f           *os.File
	cap         int64
	writePos    int64
	overwriting bool
	minLevel    atomic.Int32
	mirror      zerolog.Logger
}

// Open opens or creates path, recovering write position and overwrite
// state per the marker-scan rules: if a marker is found, resume after it
// in overwrite mode; if the file is already at or past cap with no
// marker, start overwriting at offset 0; otherwise append.
func Open(path string, capBytes int64, mirror zerolog.Logger) (*Store, error) {
	if capBytes < minFileCap {
		return nil, fmt.Errorf("logstore: cap %d below minimum %d", capBytes, minFileCap)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}

	s := &Store{
		mu:     make(chan struct{}, 1),
		f:      f,
		cap:    capBytes,
		mirror: mirror,
	}
	s.minLevel.Store(int32(LevelInfo))

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logstore: stat %s: %w", path, err)
	}
	size := info.Size()

	if size > 0 {
		off, found, err := findMarker(f, size)
		if err != nil {
			f.Close()
			return nil, err
		}
		switch {
		case found:
			s.writePos = off
			s.overwriting = true
		case size >= capBytes:
			s.writePos = 0
			s.overwriting = true
		default:
			s.writePos = size
		}
	}

	return s, nil
}

func (s *Store) lock()   { s.mu <- struct{}{} }
func (s *Store) unlock() { <-s.mu }

// SetLevel changes the minimum level that reaches the file. Lock-free.
func (s *Store) SetLevel(l Level) { s.minLevel.Store(int32(l)) }

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.lock()
	defer s.unlock()
	return s.f.Close()
}

// Write formats and appends one line, wrapping and re-marking as needed,
// and mirrors the same line to stderr inside the lock. Lines whose level
// is below the current filter are dropped before formatting.
func (s *Store) Write(level Level, msg string) error {
	if int32(level) < s.minLevel.Load() {
		return nil
	}

	ts := time.Now().UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] [%s] %s", ts, level.tag(), msg)
	if len(line) > lineBufMax-1 {
		line = line[:lineBufMax-1]
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}

	s.lock()
	defer s.unlock()

	s.mirrorLine(level, msg)

	lineLen := int64(len(line))
	usable := s.cap - markerLen
	if lineLen > usable {
		lineLen = usable
		line = line[:lineLen]
	}

	spaceNeeded := lineLen
	if s.overwriting {
		spaceNeeded += markerLen
	}
	if s.writePos+spaceNeeded > s.cap {
		if s.overwriting && s.writePos+markerLen <= s.cap {
			blanks := make([]byte, markerLen)
			for i := range blanks {
				blanks[i] = ' '
			}
			blanks[markerLen-1] = '\n'
			if _, err := s.f.WriteAt(blanks, s.writePos); err != nil {
				return fmt.Errorf("logstore: blank marker: %w", err)
			}
		}
		s.writePos = 0
		s.overwriting = true
	}

	if _, err := s.f.WriteAt([]byte(line), s.writePos); err != nil {
		return fmt.Errorf("logstore: write: %w", err)
	}
	s.writePos += lineLen

	if s.overwriting {
		if _, err := s.f.WriteAt([]byte(marker), s.writePos); err != nil {
			return fmt.Errorf("logstore: write marker: %w", err)
		}
		// write position is not advanced past the marker: the next write overwrites it.
	}
	return nil
}

func (s *Store) mirrorLine(level Level, msg string) {
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = s.mirror.Debug()
	case LevelWarn:
		ev = s.mirror.Warn()
	case LevelError:
		ev = s.mirror.Error()
	default:
		ev = s.mirror.Info()
	}
	ev.Msg(msg)
}

// Debug, Info, Warn and Error are convenience wrappers around Write.
func (s *Store) Debug(msg string) error { return s.Write(LevelDebug, msg) }
func (s *Store) Info(msg string) error  { return s.Write(LevelInfo, msg) }
func (s *Store) Warn(msg string) error  { return s.Write(LevelWarn, msg) }
func (s *Store) Error(msg string) error { return s.Write(LevelError, msg) }

// findMarker scans fh for the literal overwrite marker, hinting the scan
// to line boundaries the way the original implementation does. It
// returns the marker's byte offset and true if found.
func findMarker(fh *os.File, size int64) (int64, bool, error) {
	if size < markerLen {
		return 0, false, nil
	}

	buf := make([]byte, size)
	if _, err := fh.ReadAt(buf, 0); err != nil && err != io.EOF {
		return 0, false, fmt.Errorf("logstore: scan for marker: %w", err)
	}

	markerBytes := []byte(marker)
	p := 0
	end := len(buf) - int(markerLen)
	for p <= end {
		if bytes.Equal(buf[p:p+int(markerLen)], markerBytes) {
			return int64(p), true, nil
		}
		nl := bytes.IndexByte(buf[p:end+int(markerLen)], '\n')
		if nl < 0 {
			break
		}
		p += nl + 1
	}
	return 0, false, nil
}
