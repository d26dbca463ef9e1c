package situation

import (
	"context"
	"log/slog"
	"time"

	"github.com/becomeliminal/companion-core/storage"
)

// Failover is a Store that mirrors the memory package's failover policy:
// durable primary until unreachable, then an in-process fallback, with a
// probe flipping back once the primary answers. Fallback data is not
// migrated across the flip.
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
		logger:   logger.With("component", "situation-failover"),
	}
}

// Mode returns the active storage mode.
func (f *Failover) Mode() storage.Mode {
	return f.guard.Current()
}

func (f *Failover) trip(err error) {
	if f.guard.Transition(storage.ModeDurable, storage.ModeFallback) {
		f.logger.Error("primary context store unreachable, switching to in-process fallback", "error", err)
	}
}

// Probe checks primary connectivity and flips back to durable mode when
// it recovers.
func (f *Failover) Probe(ctx context.Context) {
	if f.guard.Current() != storage.ModeFallback {
		return
	}
	if err := f.primary.Ping(ctx); err != nil {
		return
	}
	if f.guard.Transition(storage.ModeFallback, storage.ModeDurable) {
		f.logger.Warn("primary context store recovered, switching back; fallback entries are not migrated")
	}
}

func (f *Failover) Insert(ctx context.Context, it *Item) error {
	if f.guard.Current() == storage.ModeDurable {
		err := f.primary.Insert(ctx, it)
		if err == nil {
			return nil
		}
		f.trip(err)
	}
	return f.fallback.Insert(ctx, it)
}

func (f *Failover) Get(ctx context.Context, id string) (*Item, error) {
	if f.guard.Current() == storage.ModeDurable {
		it, err := f.primary.Get(ctx, id)
		if err == nil {
			return it, nil
		}
		f.trip(err)
	}
	return f.fallback.Get(ctx, id)
}

func (f *Failover) Update(ctx context.Context, it *Item) (bool, error) {
	if f.guard.Current() == storage.ModeDurable {
		ok, err := f.primary.Update(ctx, it)
		if err == nil {
			return ok, nil
		}
		f.trip(err)
	}
	return f.fallback.Update(ctx, it)
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

func (f *Failover) ListByUser(ctx context.Context, userID string, flt Filter) ([]*Item, error) {
	if f.guard.Current() == storage.ModeDurable {
		list, err := f.primary.ListByUser(ctx, userID, flt)
		if err == nil {
			return list, nil
		}
		f.trip(err)
	}
	return f.fallback.ListByUser(ctx, userID, flt)
}

func (f *Failover) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	if f.guard.Current() == storage.ModeDurable {
		list, err := f.primary.ListExpiredActive(ctx, now, limit)
		if err == nil {
			return list, nil
		}
		f.trip(err)
	}
	return f.fallback.ListExpiredActive(ctx, now, limit)
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
