package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/saathi-app/saathi-backend/internal/pkg/envutil"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

// Deduper records gateway message ids so at-least-once webhook delivery
// never produces a second logical turn for the same event.
type Deduper interface {
	// FirstSeen returns true when the id has not been observed inside the
	// dedup window, and atomically records it.
	FirstSeen(ctx context.Context, id string) (bool, error)
	Close() error
}

type dedupStore struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewDeduper connects to REDIS_ADDR. Callers fall back to NewMemoryDeduper
// when redis is not configured.
func NewDeduper(log *logger.Logger) (Deduper, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttl := envutil.DurationSeconds("EVENT_DEDUP_TTL_SECONDS", 24*time.Hour)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &dedupStore{
		log:    log.With("client", "RedisDeduper"),
		rdb:    rdb,
		prefix: "event:seen:",
		ttl:    ttl,
	}, nil
}

func (d *dedupStore) FirstSeen(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("dedup: id required")
	}
	ok, err := d.rdb.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (d *dedupStore) Close() error {
	return d.rdb.Close()
}

// memoryDeduper is the single-process fallback used for dev installs and
// tests. Entries expire lazily on lookup.
type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &memoryDeduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *memoryDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("dedup: id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = now
	return true, nil
}

func (d *memoryDeduper) Close() error { return nil }
