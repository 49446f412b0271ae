package store

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pitwall/pkg/incidents"
	"pitwall/pkg/model"
	"pitwall/pkg/queues"
)

type recordKind int

const (
	kindLap recordKind = iota
	kindStint
	kindClassification
)

type record struct {
	kind           recordKind
	sessionID      string
	lap            model.LapRecord
	stint          model.Stint
	classification incidents.IncidentClassification
}

type WriterConfig struct {
	Buffer     int
	BatchSize  int
	FlushEvery time.Duration
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Buffer:     1024,
		BatchSize:  64,
		FlushEvery: time.Second,
	}
}

type WriterStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Writer queues records for the store on a bounded channel. Records that do
// not fit are dropped and counted, so callers never block.
type Writer struct {
	store *Store
	cfg   WriterConfig

	mu     sync.RWMutex
	closed bool
	in     chan record
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewWriter(store *Store, cfg WriterConfig) *Writer {
	def := DefaultWriterConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = def.FlushEvery
	}
	w := &Writer{
		store: store,
		cfg:   cfg,
		in:    make(chan record, cfg.Buffer),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) RecordLap(sessionID string, lap model.LapRecord) {
	w.enqueue(record{kind: kindLap, sessionID: sessionID, lap: lap})
}

func (w *Writer) RecordStint(sessionID string, stint model.Stint) {
	stint.Laps = append([]model.LapRecord(nil), stint.Laps...)
	w.enqueue(record{kind: kindStint, sessionID: sessionID, stint: stint})
}

func (w *Writer) RecordClassification(ic incidents.IncidentClassification) {
	w.enqueue(record{kind: kindClassification, sessionID: ic.SessionID, classification: ic})
}

func (w *Writer) enqueue(r record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.in <- r:
	default:
		w.dropped.Add(1)
	}
}

// Close flushes pending records and stops the writer.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.in)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}

func (w *Writer) run() {
	defer close(w.done)

	pending := queues.NewQueue[record]()
	ticker := time.NewTicker(w.cfg.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-w.in:
			if !ok {
				w.flush(pending)
				return
			}
			pending.Push(r)
			if pending.Len() >= w.cfg.BatchSize {
				w.flush(pending)
			}
		case <-ticker.C:
			w.flush(pending)
		}
	}
}

func (w *Writer) flush(pending *queues.Queue[record]) {
	for !pending.IsEmpty() {
		for _, r := range pending.PopN(w.cfg.BatchSize) {
			if err := w.write(r); err != nil {
				w.failed.Add(1)
				log.Printf("store: %s\n", err)
				continue
			}
			w.written.Add(1)
		}
	}
}

func (w *Writer) write(r record) error {
	switch r.kind {
	case kindLap:
		return w.store.InsertLap(r.sessionID, r.lap)
	case kindStint:
		return w.store.InsertStint(r.sessionID, r.stint)
	default:
		return w.store.InsertClassification(r.classification)
	}
}
