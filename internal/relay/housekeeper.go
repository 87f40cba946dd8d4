package relay

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// auditPruner is the subset of *audit.Store the housekeeper needs. A
// narrow interface keeps this file buildable even when audit is nil
// (storage disabled).
type auditPruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// housekeeper runs the cron-scheduled jobs that keep the relay's own
// state bounded: audit-trail retention and a periodic heartbeat into
// the circular operator log. It owns a single cron.Cron the way the
// reference scheduler service owns one, just without the hot-reload and
// one-shot-timer machinery that service needed for plugin jobs.
type housekeeper struct {
	c      *cron.Cron
	log    zerolog.Logger
	audit  auditPruner
	logs   logstoreWriter
	retain time.Duration
}

// logstoreWriter is the subset of *logstore.Store the heartbeat job
// needs.
type logstoreWriter interface {
	Info(msg string) error
}

func newHousekeeper(audit auditPruner, logs logstoreWriter, retain time.Duration, log zerolog.Logger) *housekeeper {
	return &housekeeper{
		c:      cron.New(),
		log:    log,
		audit:  audit,
		logs:   logs,
		retain: retain,
	}
}

// Start schedules every job and starts the cron runner. It is a no-op
// if audit is nil, since there is nothing to prune and no point
// heartbeating a disabled facility.
func (h *housekeeper) Start() {
	if h.audit == nil {
		return
	}
	if _, err := h.c.AddFunc("@every 1h", h.pruneAudit); err != nil {
		h.log.Warn().Err(err).Msg("housekeeper: failed to schedule audit prune")
	}
	if _, err := h.c.AddFunc("@every 15m", h.heartbeat); err != nil {
		h.log.Warn().Err(err).Msg("housekeeper: failed to schedule heartbeat")
	}
	h.c.Start()
}

func (h *housekeeper) Stop() {
	<-h.c.Stop().Done()
}

func (h *housekeeper) pruneAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := h.audit.Prune(ctx, time.Now().Add(-h.retain))
	if err != nil {
		h.log.Warn().Err(err).Msg("housekeeper: audit prune failed")
		return
	}
	if n > 0 {
		h.log.Info().Int64("pruned", n).Msg("housekeeper: audit entries pruned")
	}
}

func (h *housekeeper) heartbeat() {
	if h.logs == nil {
		return
	}
	_ = h.logs.Info("relay heartbeat")
}
