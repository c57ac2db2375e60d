// Package cleanup reclaims guest accounts. Idle guests are first marked,
// and guests still offline once the mark has aged past a grace window are
// purged together with everything they created.
package cleanup

import (
	"context"
	"time"

	"dabubble/prefs"
	"dabubble/store"
	"dabubble/types"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// IdleAfter is how long a guest may go without a presence heartbeat
	// before it is marked.
	IdleAfter time.Duration
	// Grace is how long a mark must age before the guest is purged.
	Grace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:  10 * time.Minute,
		IdleAfter: 30 * time.Minute,
		Grace:     time.Hour,
	}
}

// Validate rejects non-positive durations.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return errors.Errorf("sweep interval must be positive, got %s", c.Interval)
	case c.IdleAfter <= 0:
		return errors.Errorf("guest idle time must be positive, got %s", c.IdleAfter)
	case c.Grace <= 0:
		return errors.Errorf("guest grace period must be positive, got %s", c.Grace)
	}
	return nil
}

type Report struct {
	Marked int `json:"marked"`
	Purged int `json:"purged"`
	Failed int `json:"failed"`
}

type Sweeper struct {
	st  *store.Store
	cfg Config
	now func() time.Time

	// Prefs, when set, also has a purged guest's preferences removed.
	Prefs prefs.KV
}

func New(st *store.Store, cfg Config) *Sweeper {
	return &Sweeper{st: st, cfg: cfg, now: time.Now}
}

// Run sweeps once immediately and then every Interval until ctx ends.
// Failures are logged; anything left over is picked up by the next sweep.
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.cfg.Validate(); err != nil {
		jww.ERROR.Printf("guest sweep disabled: %v", err)
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		report, err := s.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			jww.ERROR.Printf("guest sweep: %v", err)
		case report.Marked+report.Purged+report.Failed > 0:
			jww.INFO.Printf("guest sweep: marked %d, purged %d, failed %d",
				report.Marked, report.Purged, report.Failed)
		}

		select {
		case <-ctx.Done():
			jww.DEBUG.Println("guest sweep stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one mark pass followed by one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	marked, err := s.MarkIdleGuests(ctx)
	report.Marked = marked
	if err != nil {
		return report, err
	}
	purged, failed, err := s.PurgeMarkedGuests(ctx)
	report.Purged = purged
	report.Failed = failed
	return report, err
}

func (s *Sweeper) guests(ctx context.Context) ([]types.User, error) {
	q := store.Collection(types.UsersPath).Where("guest", store.Eq, true)
	guests, err := store.RunAs[types.User](ctx, s.st, q)
	return guests, errors.Wrap(err, "list guests")
}

// MarkIdleGuests flags unmarked guests whose last heartbeat is older than
// IdleAfter and sets them offline.
func (s *Sweeper) MarkIdleGuests(ctx context.Context) (int, error) {
	guests, err := s.guests(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.IdleAfter)

	marked := 0
	for _, g := range guests {
		if g.MarkedToDeleteAt != nil || !lastActive(g).Before(cutoff) {
			continue
		}
		err := s.st.Update(ctx, types.UsersPath, g.ID, map[string]any{
			"online":           false,
			"markedToDeleteAt": now,
		})
		if err != nil {
			return marked, errors.Wrapf(err, "mark guest %s", g.ID)
		}
		jww.DEBUG.Printf("guest sweep: marked %s", g.ID)
		marked++
	}
	return marked, nil
}

// PurgeMarkedGuests removes offline guests whose mark is older than Grace.
// A guest that fails to purge keeps its mark and is retried next sweep.
func (s *Sweeper) PurgeMarkedGuests(ctx context.Context) (purged, failed int, err error) {
	guests, err := s.guests(ctx)
	if err != nil {
		return 0, 0, err
	}
	cutoff := s.now().UTC().Add(-s.cfg.Grace)

	for _, g := range guests {
		if g.Online || g.MarkedToDeleteAt == nil || !g.MarkedToDeleteAt.Before(cutoff) {
			continue
		}
		if err := s.Purge(ctx, g.ID); err != nil {
			if ctx.Err() != nil {
				return purged, failed, ctx.Err()
			}
			jww.WARN.Printf("guest sweep: purge %s: %v", g.ID, err)
			failed++
			continue
		}
		purged++
	}
	return purged, failed, nil
}

func lastActive(u types.User) time.Time {
	if u.LastSeenAt.After(u.CreatedAt) {
		return u.LastSeenAt
	}
	return u.CreatedAt
}
