// Package engine wires the background jobs of the orchestration engine to
// a cron scheduler.
package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/job"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/util/common"
)

// Engine runs the periodic health-monitor and inbound-sync loops.
type Engine struct {
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine() *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{ctx: ctx, cancel: cancel}
}

func (e *Engine) Start() (err error) {
	defer func() {
		if r := common.Recover("engine start"); r != nil {
			err = fmt.Errorf("engine start panicked: %v", r)
		}
	}()

	e.cron = cron.New()

	healthJob := job.NewCheckPanelHealthJob(e.ctx)
	healthSpec := fmt.Sprintf("@every %s", config.GetHealthCheckInterval())
	if _, err := e.cron.AddJob(healthSpec, healthJob); err != nil {
		return err
	}
	syncSpec := fmt.Sprintf("@every %s", config.GetInboundSyncInterval())
	if _, err := e.cron.AddJob(syncSpec, job.NewSyncInboundsJob(e.ctx)); err != nil {
		return err
	}

	e.cron.Start()
	logger.Infof("engine started: health checks %s, inbound sync %s", healthSpec, syncSpec)

	// Kick an initial health pass so selection has health flags before the
	// first cron tick.
	go healthJob.Run()
	return nil
}

func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
	e.cancel()
	logger.Info("engine stopped")
}
