package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

// LogicalTurn is one coalesced unit of user input: every fragment that
// arrived within the debounce window, joined in arrival order.
type LogicalTurn struct {
	UserKey     string
	Text        string
	FirstSentAt time.Time
	LastSentAt  time.Time
	Fragments   int
}

// FlushFunc receives flushed turns. It must not block: the debouncer calls
// it while holding the per-user buffer lock so that consecutive flushes for
// one user are handed off in order.
type FlushFunc func(turn LogicalTurn)

type DebouncerConfig struct {
	// Window is the quiet period after the last fragment before a flush.
	Window time.Duration
}

// Debouncer collapses bursts of fragments per user into logical turns.
// Each user owns an independent buffer and timer; unrelated users never
// contend on the same lock.
type Debouncer struct {
	log    *logger.Logger
	window time.Duration
	flush  FlushFunc

	mu      sync.Mutex
	buffers map[string]*debounceBuffer
	closed  bool
}

type debounceBuffer struct {
	mu        sync.Mutex
	fragments []string
	firstAt   time.Time
	lastAt    time.Time
	timer     *time.Timer
}

func NewDebouncer(baseLog *logger.Logger, cfg DebouncerConfig, flush FlushFunc) (*Debouncer, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if flush == nil {
		return nil, fmt.Errorf("flush sink required")
	}
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Second
	}
	return &Debouncer{
		log:     baseLog.With("service", "Debouncer"),
		window:  cfg.Window,
		flush:   flush,
		buffers: make(map[string]*debounceBuffer),
	}, nil
}

// Ingest appends a fragment to the user's buffer and starts or extends the
// flush timer. Fragments for one user serialize on that user's buffer lock;
// different users proceed in parallel.
func (d *Debouncer) Ingest(userKey, fragment string, sentAt time.Time) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		// Shutdown already drained the buffers; emit the straggler as its
		// own turn rather than dropping it.
		d.flush(LogicalTurn{
			UserKey:     userKey,
			Text:        fragment,
			FirstSentAt: sentAt,
			LastSentAt:  sentAt,
			Fragments:   1,
		})
		return
	}
	b, ok := d.buffers[userKey]
	if !ok {
		b = &debounceBuffer{}
		d.buffers[userKey] = b
	}
	d.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fragments) == 0 {
		b.firstAt = sentAt
	}
	b.fragments = append(b.fragments, fragment)
	b.lastAt = sentAt

	if b.timer == nil {
		b.timer = time.AfterFunc(d.window, func() { d.fire(userKey, b) })
	} else {
		// Reset reschedules even when the callback already fired; a stale
		// fire finds an empty buffer and no-ops, so nothing is duplicated.
		b.timer.Reset(d.window)
	}
}

func (d *Debouncer) fire(userKey string, b *debounceBuffer) {
	// Same lock order as PendingUsers: map lock, then buffer lock.
	d.mu.Lock()
	b.mu.Lock()
	d.drainLocked(userKey, b)
	// Drop the drained buffer so the map does not grow with every user ever
	// seen. A fragment that raced past the map read in Ingest keeps its own
	// timer and drains through a later fire.
	if cur, ok := d.buffers[userKey]; ok && cur == b && len(b.fragments) == 0 {
		delete(d.buffers, userKey)
	}
	b.mu.Unlock()
	d.mu.Unlock()
}

// drainLocked flushes the buffer contents as one logical turn. Caller holds
// the buffer lock, which keeps the flush hand-off ordered with any fragment
// arriving at the same instant: the fragment either landed before the drain
// (included in this turn) or lands after (starts a fresh buffer).
func (d *Debouncer) drainLocked(userKey string, b *debounceBuffer) {
	if len(b.fragments) == 0 {
		return
	}
	turn := LogicalTurn{
		UserKey:     userKey,
		Text:        strings.Join(b.fragments, "\n"),
		FirstSentAt: b.firstAt,
		LastSentAt:  b.lastAt,
		Fragments:   len(b.fragments),
	}
	b.fragments = nil
	b.timer = nil

	d.log.Debug("Flushing debounce buffer",
		"user_key", userKey,
		"fragments", turn.Fragments,
	)
	d.flush(turn)
}

// Close stops accepting new buffers and synchronously flushes everything
// still pending, so graceful shutdown never drops a typed message.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	remaining := make(map[string]*debounceBuffer, len(d.buffers))
	for k, b := range d.buffers {
		remaining[k] = b
	}
	d.buffers = make(map[string]*debounceBuffer)
	d.mu.Unlock()

	for key, b := range remaining {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
		}
		d.drainLocked(key, b)
		b.mu.Unlock()
	}
	return nil
}

// PendingUsers reports how many users currently hold unflushed fragments.
func (d *Debouncer) PendingUsers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.buffers {
		b.mu.Lock()
		if len(b.fragments) > 0 {
			n++
		}
		b.mu.Unlock()
	}
	return n
}
