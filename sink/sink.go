// Package sink implements the buffered, ordered JSON result writer shared
// by the orchestrator and the partition scanner: records accumulate in
// memory and are flushed to numbered chunk files by a single background
// writer, so the hot measurement path never blocks on disk I/O.
package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Handle represents the ordered completion of every write enqueued
// through a Sink up to and including the one that produced it. Wait
// blocks until that write (and every earlier one) has committed, and
// returns the first error encountered, if any.
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) complete(err error) {
	h.err = err
	close(h.done)
}

// Wait blocks until the write this handle represents has committed.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

type writeJob struct {
	records []any
	handle  *Handle
}

// Sink accumulates records and writes them out in fixed-size, numbered
// JSON array files under Dir. It is safe for concurrent use by multiple
// producers; writes are serialized through a single background goroutine
// so file-creation order always matches write-commit order.
type Sink struct {
	Dir       string
	ChunkSize int
	Logger    *slog.Logger
	// NameChunk produces the file name for the idx'th chunk written by
	// this Sink (0-based). Defaults to a zero-padded sequence number,
	// which sorts in write order; production callers that want the
	// "<ISO-8601-UTC>-scan.json" scan-directory convention should pass
	// ISO8601Name.
	NameChunk func(idx int) string

	mu      sync.Mutex
	buf     []any
	nextIdx int

	jobs   chan writeJob
	wg     sync.WaitGroup
	closed bool
}

// New returns a Sink writing numbered chunk files into dir. chunkSize must
// be >= 1.
func New(dir string, chunkSize int, logger *slog.Logger) *Sink {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		Dir:       dir,
		ChunkSize: chunkSize,
		Logger:    logger,
		NameChunk: func(idx int) string { return fmt.Sprintf("%06d.json", idx) },
		jobs:      make(chan writeJob, 16),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// ISO8601Name returns a NameChunk function producing
// "<ISO-8601-UTC>-scan.json" file names. The chunk index is embedded as a
// zero-padded suffix so names sort in write order even when two chunks
// are written within the same wall-clock second.
func ISO8601Name() func(idx int) string {
	return func(idx int) string {
		ts := time.Now().UTC().Format("20060102T150405Z")
		return fmt.Sprintf("%s-%04d-scan.json", ts, idx)
	}
}

// run is the single background writer; it processes jobs strictly in the
// order they were enqueued, guaranteeing the serial-chain ordering
// contract.
func (s *Sink) run() {
	defer s.wg.Done()
	var firstErr error
	for job := range s.jobs {
		if len(job.records) > 0 {
			if err := s.writeChunk(job.records); err != nil {
				s.Logger.Error("sink: write failed", "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		job.handle.complete(firstErr)
	}
}

// Send enqueues record for eventual output. When the internal buffer
// reaches ChunkSize, a chunk is carved off and scheduled for writing.
// Every call threads a job through the same serial queue, whether or not
// it produced a chunk, so the returned Handle only completes once every
// write enqueued up to and including this call has committed.
func (s *Sink) Send(record any) *Handle {
	s.mu.Lock()
	s.buf = append(s.buf, record)

	var chunk []any
	if len(s.buf) >= s.ChunkSize {
		chunk = s.buf[:s.ChunkSize]
		s.buf = append([]any(nil), s.buf[s.ChunkSize:]...)
	}
	s.mu.Unlock()

	h := newHandle()
	s.jobs <- writeJob{records: chunk, handle: h}
	return h
}

// EndFlush drains any remaining buffered records into a final chunk file
// and returns a Handle completing when all pending writes, including this
// final one, have committed. The final write is threaded through the same
// serial queue as Send, so it cannot race an earlier, still-in-flight
// chunk for the next sequential index or file name. After EndFlush the
// Sink must not be used again.
func (s *Sink) EndFlush() *Handle {
	s.mu.Lock()
	remaining := s.buf
	s.buf = nil
	s.mu.Unlock()

	h := newHandle()
	s.jobs <- writeJob{records: remaining, handle: h}

	if !s.closed {
		close(s.jobs)
		s.closed = true
	}
	s.wg.Wait()
	return h
}

// writeChunk assigns the next sequential file name and writes records to
// it as a JSON array, fsyncing before returning so a crash cannot lose an
// already-committed chunk.
func (s *Sink) writeChunk(records []any) error {
	s.mu.Lock()
	idx := s.nextIdx
	s.nextIdx++
	s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("sink: create directory: %w", err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("sink: marshal chunk %d: %w", idx, err)
	}

	name := filepath.Join(s.Dir, s.NameChunk(idx))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("sink: create chunk file %d: %w", idx, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sink: write chunk %d: %w", idx, err)
	}
	return f.Sync()
}
