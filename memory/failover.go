package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/becomeliminal/companion-core/storage"
)

// Failover is a Store that routes to a durable primary until it becomes
// unreachable, then to an in-process fallback store. Writes always succeed
// against whichever side is active. Probe flips back to durable once the
// primary answers again; fallback data is NOT migrated across the flip,
// so callers must not assume entries written during an outage persist.
type Failover struct {
	primary  Store
	fallback Store
	guard    *storage.ModeGuard
	logger   *slog.Logger
}

// NewFailover wraps primary with an in-process fallback.
func NewFailover(primary, fallback Store, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		primary:  primary,
		fallback: fallback,
		guard:    &storage.ModeGuard{},
		logger:   logger.With("component", "memory-failover"),
	}
}

// Mode returns the active storage mode.
func (f *Failover) Mode() storage.Mode {
	return f.guard.Current()
}

// trip moves to fallback mode after a primary failure. Only the winning
// goroutine logs the flip.
func (f *Failover) trip(err error) {
	if f.guard.Transition(storage.ModeDurable, storage.ModeFallback) {
		f.logger.Error("primary memory store unreachable, switching to in-process fallback", "error", err)
	}
}

// Probe checks primary connectivity and flips back to durable mode when it
// recovers. Safe to call from a periodic timer.
func (f *Failover) Probe(ctx context.Context) {
	if f.guard.Current() != storage.ModeFallback {
		return
	}
	if err := f.primary.Ping(ctx); err != nil {
		return
	}
	if f.guard.Transition(storage.ModeFallback, storage.ModeDurable) {
		f.logger.Warn("primary memory store recovered, switching back; fallback entries are not migrated")
	}
}

func (f *Failover) Insert(ctx context.Context, m *Memory) error {
	if f.guard.Current() == storage.ModeDurable {
		err := f.primary.Insert(ctx, m)
		if err == nil {
			return nil
		}
		f.trip(err)
	}
	return f.fallback.Insert(ctx, m)
}

func (f *Failover) Get(ctx context.Context, id string) (*Memory, error) {
	if f.guard.Current() == storage.ModeDurable {
		m, err := f.primary.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		f.trip(err)
	}
	return f.fallback.Get(ctx, id)
}

func (f *Failover) Update(ctx context.Context, m *Memory) (bool, error) {
	if f.guard.Current() == storage.ModeDurable {
		ok, err := f.primary.Update(ctx, m)
		if err == nil {
			return ok, nil
		}
		f.trip(err)
	}
	return f.fallback.Update(ctx, m)
}

func (f *Failover) Delete(ctx context.Context, id string) (bool, error) {
	if f.guard.Current() == storage.ModeDurable {
		ok, err := f.primary.Delete(ctx, id)
		if err == nil {
			return ok, nil
		}
		f.trip(err)
	}
	return f.fallback.Delete(ctx, id)
}

func (f *Failover) ListByUser(ctx context.Context, userID string, flt Filter) ([]*Memory, error) {
	if f.guard.Current() == storage.ModeDurable {
		list, err := f.primary.ListByUser(ctx, userID, flt)
		if err == nil {
			return list, nil
		}
		f.trip(err)
	}
	return f.fallback.ListByUser(ctx, userID, flt)
}

func (f *Failover) CountByUser(ctx context.Context, userID string) (int, error) {
	if f.guard.Current() == storage.ModeDurable {
		n, err := f.primary.CountByUser(ctx, userID)
		if err == nil {
			return n, nil
		}
		f.trip(err)
	}
	return f.fallback.CountByUser(ctx, userID)
}

func (f *Failover) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Memory, error) {
	if f.guard.Current() == storage.ModeDurable {
		list, err := f.primary.ListExpired(ctx, now, limit)
		if err == nil {
			return list, nil
		}
		f.trip(err)
	}
	return f.fallback.ListExpired(ctx, now, limit)
}

func (f *Failover) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *Failover) Close() error {
	err := f.primary.Close()
	if cerr := f.fallback.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
