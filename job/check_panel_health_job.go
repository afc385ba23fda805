// Package job provides the scheduled background jobs of the multix engine.
package job

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/service"
)

// CheckPanelHealthJob probes every active panel each cycle and records the
// outcomes in a single batch commit. A failing probe for one panel never
// aborts the cycle for the others.
type CheckPanelHealthJob struct {
	panelService service.PanelService
	ctx          context.Context
}

// NewCheckPanelHealthJob builds the job. The base context comes from the
// engine so an engine stop cancels in-flight probes.
func NewCheckPanelHealthJob(ctx context.Context) *CheckPanelHealthJob {
	return &CheckPanelHealthJob{ctx: ctx}
}

func (j *CheckPanelHealthJob) Run() {
	ctx, cancel := context.WithTimeout(j.ctx, config.GetHealthCheckInterval())
	defer cancel()

	panels, err := j.panelService.GetActivePanels()
	if err != nil {
		logger.Errorf("health check: failed to load panels: %v", err)
		return
	}
	if len(panels) == 0 {
		return
	}

	type probeResult struct {
		panel   *model.Panel
		healthy bool
		msg     string
	}

	var mu sync.Mutex
	results := make([]probeResult, 0, len(panels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.GetPanelFanout())
	for _, panel := range panels {
		g.Go(func() error {
			healthy, msg := j.panelService.ProbePanel(gctx, panel)
			mu.Lock()
			results = append(results, probeResult{panel: panel, healthy: healthy, msg: msg})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if !r.healthy {
			logger.Warningf("panel %s (%d) is unhealthy: %s", r.panel.Name, r.panel.Id, r.msg)
		}
	}

	// The whole cycle's flags land in one commit.
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		for _, r := range results {
			if err := j.panelService.SetPanelHealthTx(tx, r.panel, r.healthy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Errorf("health check: failed to record cycle: %v", err)
	}
}
