package logstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Tail reconstructs the file's logical order around the overwrite marker
// (if any) and returns the last n newline-delimited lines, each still
// carrying its trailing '\n'.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("logstore: n must be positive")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("logstore: read %s: %w", path, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("logstore: %s is empty", path)
	}

	logical := reorderAroundMarker(buf)

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(logical))
	sc.Buffer(make([]byte, 0, lineBufMax), lineBufMax*4)
	for sc.Scan() {
		text := sc.Text()
		if text == "" {
			continue
		}
		lines = append(lines, text+"\n")
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("logstore: scan %s: %w", path, err)
	}

	start := len(lines) - n
	if start < 0 {
		start = 0
	}
	return lines[start:], nil
}

// reorderAroundMarker returns [after_marker..end] ++ [0..marker_start)
// when a marker is present, or buf unchanged otherwise.
func reorderAroundMarker(buf []byte) []byte {
	markerBytes := []byte(marker)
	pos := -1
	p := 0
	for p+int(markerLen) <= len(buf) {
		if bytes.Equal(buf[p:p+int(markerLen)], markerBytes) {
			pos = p
			break
		}
		nl := bytes.IndexByte(buf[p:], '\n')
		if nl < 0 {
			break
		}
		p += nl + 1
	}
	if pos < 0 {
		return buf
	}

	after := buf[pos+int(markerLen):]
	before := buf[:pos]
	out := make([]byte, 0, len(after)+len(before))
	out = append(out, after...)
	out = append(out, before...)
	return out
}

// Follow watches path for writes and copies newly appended bytes to w as
// they land, starting from the file's current end. It returns when ctx
// is cancelled. If the file shrinks (e.g. truncation), the reader resets
// to offset 0 and resumes from there. A wrap of the circular log rewrites
// earlier offsets in place without shrinking the file, so those rewritten
// bytes are not reported.
func Follow(ctx context.Context, path string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("logstore: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("logstore: watch %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", path, err)
	}
	defer f.Close()

	lastPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("logstore: seek %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("logstore: watch error: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			curPos, err := f.Seek(0, io.SeekEnd)
			if err != nil {
				return fmt.Errorf("logstore: seek %s: %w", path, err)
			}
			if curPos < lastPos {
				lastPos = 0
			}
			if curPos > lastPos {
				if _, err := f.Seek(lastPos, io.SeekStart); err != nil {
					return fmt.Errorf("logstore: seek %s: %w", path, err)
				}
				if _, err := io.CopyN(w, f, curPos-lastPos); err != nil {
					return fmt.Errorf("logstore: read %s: %w", path, err)
				}
				lastPos = curPos
			}
		}
	}
}
