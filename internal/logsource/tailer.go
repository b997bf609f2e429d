// Package logsource tails the reverse proxy access log and emits raw lines.
//
// DESIGN: fsnotify on the log's directory drives reads, with a polling
// ticker as fallback — Docker bind mounts do not always deliver inotify
// events. Rotation is detected by inode change or size reset; the new
// file is read from the start. Unreadable files (permissions, I/O) are
// fatal and end Run with an error; a missing file is not fatal — the
// tailer waits for it to appear, matching how the proxy container and
// the watcher start in either order.
package logsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the fallback read cadence when no fsnotify
// events arrive.
const DefaultPollInterval = 500 * time.Millisecond

// Tailer follows one log file across rotations.
type Tailer struct {
	path         string
	out          chan string
	pollInterval time.Duration

	file    *os.File
	reader  *bufio.Reader
	inode   uint64
	offset  int64
	pending string // partial line carried across reads
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval overrides the fallback polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) { t.pollInterval = d }
}

// New creates a Tailer for the given path.
func New(path string, opts ...Option) *Tailer {
	t := &Tailer{
		path:         path,
		out:          make(chan string, 512),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lines returns the channel raw log lines are sent on. Closed when Run
// returns.
func (t *Tailer) Lines() <-chan string {
	return t.out
}

// Run tails the file until ctx is cancelled or a fatal I/O error occurs.
// Returns nil on cancellation, the underlying error otherwise.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.out)
	defer t.closeFile()

	if err := t.waitForFile(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if err := t.open(true); err != nil {
		return err
	}
	log.Info().Str("path", t.path).Msg("tailing log file")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory so we also see the file being recreated.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		if err := t.drain(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != t.path {
				continue
			}
			// Write events fall through to the next drain; remove or
			// rename means rotation, handled by checkRotation below.
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				log.Warn().Err(err).Msg("fs watcher error")
			}
		case <-ticker.C:
		}

		if err := t.checkRotation(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// drain reads complete lines until EOF and emits them.
func (t *Tailer) drain(ctx context.Context) error {
	for {
		chunk, err := t.reader.ReadString('\n')
		if chunk != "" {
			t.offset += int64(len(chunk))
			if strings.HasSuffix(chunk, "\n") {
				line := t.pending + strings.TrimRight(chunk, "\r\n")
				t.pending = ""
				select {
				case t.out <- line:
				case <-ctx.Done():
					return context.Canceled
				}
			} else {
				// Incomplete write; hold until the rest arrives.
				t.pending += chunk
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", t.path, err)
		}
	}
}

// checkRotation reopens the file when it was replaced or truncated.
func (t *Tailer) checkRotation(ctx context.Context) error {
	fi, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Rotated away; wait for the new file.
			log.Info().Str("path", t.path).Msg("log file disappeared, waiting for recreation")
			t.closeFile()
			if err := t.waitForFile(ctx); err != nil {
				return err
			}
			return t.open(false)
		}
		return fmt.Errorf("stat %s: %w", t.path, err)
	}

	inode := fileInode(fi)
	switch {
	case inode != 0 && inode != t.inode:
		log.Info().Str("path", t.path).Msg("log file rotated, reopening")
		t.closeFile()
		return t.open(false)
	case fi.Size() < t.offset:
		// Same inode, shrunk: copy-truncate rotation.
		log.Info().Str("path", t.path).Msg("log file truncated, rereading from start")
		t.closeFile()
		return t.open(false)
	}
	return nil
}

// open opens the file. seekEnd starts at the tail (initial open only);
// reopens after rotation read from the beginning.
func (t *Tailer) open(seekEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	t.file = f
	t.offset = 0
	t.pending = ""

	if fi, err := f.Stat(); err == nil {
		t.inode = fileInode(fi)
	}
	if seekEnd {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", t.path, err)
		}
		t.offset = off
	}
	t.reader = bufio.NewReader(f)
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// waitForFile polls until the path exists or ctx is cancelled.
func (t *Tailer) waitForFile(ctx context.Context) error {
	for {
		_, err := os.Stat(t.path)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", t.path, err)
		}
		log.Debug().Str("path", t.path).Msg("waiting for log file")
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-time.After(t.pollInterval):
		}
	}
}

// fileInode extracts the inode, or 0 when unavailable.
func fileInode(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
