package presence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"
	"time"
)

const (
	AutokickDefaultMinutes = 60
	SweepInterval          = time.Minute
)

// Autokick force-closes sessions that stay open longer than the
// configured threshold. The threshold lives in the settings table and
// is cached in memory after the first read; 0 disables the feature.
type Autokick struct {
	store  Store
	cache  *Cache
	hub    *Hub
	metric *utils.Metric

	now func() time.Time

	mu      sync.Mutex
	minutes int
	loaded  bool

	sweeping atomic.Bool
}

func NewAutokick(store Store, cache *Cache, hub *Hub, metric *utils.Metric) *Autokick {
	return &Autokick{
		store:   store,
		cache:   cache,
		hub:     hub,
		metric:  metric,
		now:     time.Now,
		minutes: AutokickDefaultMinutes,
	}
}

// Lazily loads the threshold from settings on first call, cached
// in memory afterwards.
func (a *Autokick) Minutes(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.minutes
	}

	value, found, err := a.store.GetSettingInt(ctx, model.SETTING_AUTOKICK_MINUTES)
	if err != nil {
		slog.Warn("can't load autokick minutes, using default", "error", err)
		return a.minutes
	}
	if found {
		a.minutes = value
	}
	a.loaded = true
	return a.minutes
}

// Single-writer setter: the in-memory value is assigned before the
// persistence write, so the feature stays effective even when the
// write fails. Persistence failures are logged and counted, not
// propagated.
func (a *Autokick) SetMinutes(ctx context.Context, minutes int) int {
	a.mu.Lock()
	a.minutes = minutes
	a.loaded = true
	a.mu.Unlock()

	if err := a.store.UpsertSettingInt(ctx, model.SETTING_AUTOKICK_MINUTES, minutes); err != nil {
		slog.Warn("can't persist autokick minutes, in-memory value still applies", "error", err)
		if a.metric != nil {
			utils.Observe(a.metric.SettingWriteFailed, 1)
		}
	}
	return minutes
}

// Closes every open session older than the threshold, pinning the
// checkout to check_in_at + threshold (not "now") so recorded
// durations are deterministic. A failure on one row doesn't abort the
// rest of the batch. Overlapping invocations are skipped.
func (a *Autokick) Sweep(ctx context.Context, now time.Time) ([]model.Session, error) {
	minutes := a.Minutes(ctx)
	if minutes <= 0 {
		return nil, nil
	}
	if !a.sweeping.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer a.sweeping.Store(false)

	threshold := time.Duration(minutes) * time.Minute
	stale, err := a.store.OpenSessionsOlderThan(ctx, now.Add(-threshold))
	if err != nil {
		return nil, err
	}

	closed := make([]model.Session, 0, len(stale))
	for i := range stale {
		checkOutAt := stale[i].CheckInAt.Add(threshold)
		if checkOutAt.After(now) {
			checkOutAt = now
		}
		sess, err := a.store.CloseSession(ctx, stale[i].ID, checkOutAt)
		if err != nil {
			slog.Warn("autokick: can't close stale session, skipping",
				"session", stale[i].ID, "member", stale[i].MemberID, "error", err)
			continue
		}
		closed = append(closed, *sess)
	}
	return closed, nil
}

// One sweep, plus the bulk cache refresh and broadcast when anything
// was closed. A sweep can close many sessions at once, so a full
// refresh replaces per-session upserts here.
func (a *Autokick) sweepAndBroadcast(ctx context.Context) {
	closed, err := a.Sweep(ctx, a.now())
	if err != nil {
		slog.Error("autokick sweep failed", "error", err)
		return
	}
	if len(closed) == 0 {
		return
	}

	slog.Info("autokick closed stale sessions", "count", len(closed))
	if a.metric != nil {
		utils.Observe(a.metric.AutokickClosed, float64(len(closed)))
	}
	if err := a.cache.Refresh(ctx); err != nil {
		slog.Error("can't refresh active session cache after sweep", "error", err)
	}
	a.hub.Publish()
}

// Runs a sweep eagerly, then every minute until shutdown.
func (a *Autokick) Loop(gracefulShutdownCh chan struct{}) {
	a.sweepAndBroadcast(context.Background())

	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gracefulShutdownCh:
			return
		case <-ticker.C:
			a.sweepAndBroadcast(context.Background())
		}
	}
}
