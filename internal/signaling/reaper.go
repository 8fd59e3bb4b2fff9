package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ankitkumar72/Huddle/internal/metrics"
	"github.com/Ankitkumar72/Huddle/internal/room"
)

// Reaper evicts rooms with no traffic past the idle TTL. It is the only
// component that unilaterally terminates otherwise-healthy connections.
type Reaper struct {
	log     *slog.Logger
	rooms   *room.Registry
	metrics *metrics.Metrics

	ttl      time.Duration
	interval time.Duration
}

func NewReaper(logger *slog.Logger, rooms *room.Registry, m *metrics.Metrics, ttl, interval time.Duration) *Reaper {
	if m == nil {
		m = metrics.New()
	}
	return &Reaper{
		log:      logger,
		rooms:    rooms,
		metrics:  m,
		ttl:      ttl,
		interval: interval,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Reaper) sweepOnce() {
	for _, ev := range r.rooms.Sweep(r.ttl) {
		// Sessions are already dropped by Sweep; closing the transports makes
		// each member's read loop observe the shutdown and finish teardown as
		// a no-op.
		for _, m := range ev.Members {
			if err := m.Peer.Close(CloseIdleExpired, "room_idle_expired"); err != nil {
				r.log.Debug("idle close failed", "room", ev.Code, "err", err)
			}
		}
		r.metrics.Inc(metrics.EventRoomReaped)
		r.log.Info("room reaped", "room", ev.Code, "members", len(ev.Members))
	}
}
