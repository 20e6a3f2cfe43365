package evallog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"evalgo/pkg/core"
)

// Options controls journal buffering and filtering.
type Options struct {
	// BufferSize is the number of entries held in memory before a
	// durable flush. Batched flushes bound small-write overhead on
	// remote filesystems; at most one buffer's worth is lost on crash.
	BufferSize int
	// Realtime includes per-event detail (sample and attempt
	// transitions). When false only terminal summaries are recorded.
	Realtime bool
	// LogSamples includes sample input/target/output bodies.
	LogSamples bool
	// LogImages includes image payloads; otherwise they are stripped.
	LogImages bool
	// SharedDir, when set, receives a copy of the journal every
	// SharedInterval, independent of the local flush cadence.
	SharedDir      string
	SharedInterval time.Duration
}

// Journal is a durable, buffered, incrementally flushed evaluation log.
type Journal struct {
	opts Options
	path string

	mu  sync.Mutex
	f   *os.File
	buf []Entry

	stopShared chan struct{}
	sharedWG   sync.WaitGroup
}

// Create opens a new journal file at path. A zero BufferSize selects
// the destination's default flush cadence.
func Create(path string, opts Options) (*Journal, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		opts:       opts,
		path:       path,
		f:          f,
		buf:        make([]Entry, 0, opts.BufferSize),
		stopShared: make(chan struct{}),
	}
	if opts.SharedDir != "" && opts.SharedInterval > 0 {
		j.sharedWG.Add(1)
		go j.sharedLoop()
	}
	return j, nil
}

// defaultBufferSize picks the flush cadence for a journal destination.
// URL-style paths point at remote filesystems, where larger batches
// amortize per-write round trips.
func defaultBufferSize(path string) int {
	if strings.Contains(path, "://") {
		return core.DefaultRemoteLogBuffer
	}
	return core.DefaultLogBuffer
}

// Path returns the journal file location.
func (j *Journal) Path() string { return j.path }

// Append buffers one entry, flushing to durable storage when the buffer
// is full. Detail entries are dropped when realtime logging is off;
// sample bodies and images are stripped per options.
func (j *Journal) Append(e Entry) error {
	if !j.opts.Realtime && e.Kind.detail() {
		return nil
	}
	if !j.opts.LogSamples {
		e.Input, e.Target, e.Output = "", "", ""
		e.Images = nil
	}
	if !j.opts.LogImages {
		e.Images = nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf = append(j.buf, e)
	if len(j.buf) >= j.opts.BufferSize {
		return j.flushLocked()
	}
	return nil
}

// Flush writes all buffered entries and syncs the file.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.buf) == 0 {
		return nil
	}
	enc := json.NewEncoder(j.f)
	for _, e := range j.buf {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("journal append: %w", err)
		}
	}
	j.buf = j.buf[:0]
	return j.f.Sync()
}

// Sync copies the flushed journal state to the shared directory. Remote
// viewers see eventual, not immediate, consistency.
func (j *Journal) Sync() error {
	if j.opts.SharedDir == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(j.opts.SharedDir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.Join(j.opts.SharedDir, filepath.Base(j.path))
	tmp, err := os.CreateTemp(j.opts.SharedDir, ".sync-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (j *Journal) sharedLoop() {
	defer j.sharedWG.Done()
	ticker := time.NewTicker(j.opts.SharedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopShared:
			return
		case <-ticker.C:
			_ = j.Sync()
		}
	}
}

// Close flushes remaining entries, stops shared syncing after one final
// copy, and closes the file.
func (j *Journal) Close() error {
	close(j.stopShared)
	j.sharedWG.Wait()

	flushErr := j.Flush()
	syncErr := j.Sync()

	j.mu.Lock()
	defer j.mu.Unlock()
	closeErr := j.f.Close()

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// JournalFileName builds the canonical journal name for a run.
func JournalFileName(runID string, started time.Time) string {
	return fmt.Sprintf("%s_%s.eval.jsonl", started.Format("2006-01-02T15-04-05"), runID)
}
