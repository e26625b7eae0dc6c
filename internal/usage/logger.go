package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nuacast/internal/cast"
)

// Recorder accepts ledger entries. Both Logger and NoopLogger implement it.
type Recorder interface {
	Write(entry *Entry)
	Record(c cast.Completion)
	Config() Config
	Close() error
}

// Logger is an async buffered Recorder.
// Entries are queued on a channel and written to the store in batches,
// either when BatchFlushThreshold is reached or every FlushInterval.
type Logger struct {
	store   Store
	config  Config
	log     *slog.Logger
	buffer  chan *Entry
	done    chan struct{}
	wg      sync.WaitGroup
	writes  sync.WaitGroup // in-flight Write calls
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewLogger starts a Logger writing to store.
func NewLogger(store Store, cfg Config, logger *slog.Logger) *Logger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Logger{
		store:  store,
		config: cfg,
		log:    logger,
		buffer: make(chan *Entry, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Record queues an entry for a completed cast.
func (l *Logger) Record(c cast.Completion) {
	l.Write(EntryFromCompletion(c))
}

// Write queues an entry without blocking. When the buffer is full or the
// logger is closed the entry is dropped.
func (l *Logger) Write(entry *Entry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
		l.log.Warn("usage buffer full, dropping entry",
			"request_id", entry.RequestID,
			"output", entry.OutputName,
		)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close flushes buffered entries and closes the store. It is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flushBatch(batch)
		batch = make([]*Entry, 0, BatchFlushThreshold)
	}

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			// closed is already set, so no Write can send after this
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			flush()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				l.log.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		l.log.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is used when usage recording is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(*Entry) {}

func (NoopLogger) Record(cast.Completion) {}

func (NoopLogger) Config() Config { return Config{} }

func (NoopLogger) Close() error { return nil }
