package job

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/service"
)

// SyncInboundsJob refreshes the local inbound inventory from every active
// and healthy panel. One panel's failure is logged and skipped; the others
// proceed.
type SyncInboundsJob struct {
	panelService service.PanelService
	syncService  service.InboundSyncService
	ctx          context.Context
}

func NewSyncInboundsJob(ctx context.Context) *SyncInboundsJob {
	return &SyncInboundsJob{ctx: ctx}
}

func (j *SyncInboundsJob) Run() {
	ctx, cancel := context.WithTimeout(j.ctx, config.GetInboundSyncInterval())
	defer cancel()

	panels, err := j.panelService.GetActivePanels()
	if err != nil {
		logger.Errorf("inbound sync: failed to load panels: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.GetPanelFanout())
	for _, panel := range panels {
		if !panel.Healthy() {
			continue
		}
		g.Go(func() error {
			fetched, processed, err := j.syncService.SyncPanelInbounds(gctx, panel.Id)
			if err != nil {
				logger.Warningf("panel %s (%d): inbound sync failed: %v", panel.Name, panel.Id, err)
				return nil
			}
			if processed > 0 {
				logger.Infof("panel %s (%d): synced %d inbounds, %d changed", panel.Name, panel.Id, fetched, processed)
			}
			return nil
		})
	}
	_ = g.Wait()
}
