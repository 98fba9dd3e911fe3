package storage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/co8/afkbridge/pkg/logx"
)

// StartPruner schedules periodic audit pruning on the given cron spec
// (default: daily at 04:00). It returns a stop func. A nil store yields a
// no-op stop.
func StartPruner(st Store, spec string, keep time.Duration, log logx.Logger) (stop func(), err error) {
	if st == nil {
		return func() {}, nil
	}
	if spec == "" {
		spec = "0 4 * * *"
	}
	if keep <= 0 {
		keep = 30 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-keep)
		if err := st.PruneAudit(ctx, cutoff); err != nil {
			log.Warn("audit prune failed", logx.Err(err))
			return
		}
		log.Debug("audit pruned", logx.Time("cutoff", cutoff))
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}
