package service

import (
	"context"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/xui"
)

// InboundSyncService reconciles the local inbound inventory against the
// remote panels. It is the only writer of InboundListener rows.
type InboundSyncService struct {
	panelService PanelService
}

// PanelSyncResult summarizes one panel's sync for multi-panel runs.
type PanelSyncResult struct {
	PanelId   int
	PanelName string
	Fetched   int
	Processed int
	Err       error
}

// SyncPanelInbounds fetches the remote inbound list for one panel and
// reconciles it against the local mirror inside one transaction per panel.
// The commit boundary is deliberately owned here: callers never batch
// multiple panels into one transaction, so a mid-cycle failure rolls back
// only the failing panel. It returns the number of remote inbounds fetched
// and the number of rows added, updated or deactivated. A fetch failure
// marks the panel unhealthy and is still returned to the caller.
func (s *InboundSyncService) SyncPanelInbounds(ctx context.Context, panelId int) (int, int, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return 0, 0, err
	}

	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return 0, 0, err
	}

	remote, err := client.GetInbounds(ctx)
	if err != nil {
		if herr := s.panelService.SetPanelHealth(panel, false); herr != nil {
			logger.Errorf("panel %d: failed to record unhealthy state: %v", panel.Id, herr)
		}
		return 0, 0, err
	}

	processed := 0
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		var terr error
		processed, terr = s.reconcile(tx, panel, remote)
		return terr
	})
	if err != nil {
		return len(remote), 0, err
	}

	if err := s.panelService.SetPanelHealth(panel, true); err != nil {
		return len(remote), processed, err
	}
	return len(remote), processed, nil
}

// reconcile classifies each remote inbound as add, update or unchanged and
// deactivates local rows whose remote counterpart vanished. Vanished rows
// keep their history and client references; they are never hard-deleted.
func (s *InboundSyncService) reconcile(tx *gorm.DB, panel *model.Panel, remote []xui.Inbound) (int, error) {
	var local []*model.InboundListener
	if err := tx.Where("panel_id = ?", panel.Id).Find(&local).Error; err != nil {
		return 0, err
	}
	known := make(map[int]*model.InboundListener, len(local))
	for _, l := range local {
		known[l.RemoteInboundId] = l
	}

	processed := 0
	seen := make(map[int]bool, len(remote))
	for _, ri := range remote {
		transformed, err := transformInbound(panel.Id, ri)
		if err != nil {
			// One malformed inbound must not abort the whole sync.
			logger.Warningf("panel %d: skipping inbound %d (%s): %v", panel.Id, ri.Id, ri.Tag, err)
			continue
		}
		seen[ri.Id] = true

		existing, ok := known[ri.Id]
		if !ok {
			if err := tx.Create(transformed).Error; err != nil {
				return processed, err
			}
			processed++
			continue
		}
		if inboundChanged(existing, transformed) {
			transformed.Id = existing.Id
			if err := tx.Save(transformed).Error; err != nil {
				return processed, err
			}
			processed++
		}
	}

	for remoteId, existing := range known {
		if !seen[remoteId] && existing.IsActive {
			existing.IsActive = false
			if err := tx.Save(existing).Error; err != nil {
				return processed, err
			}
			processed++
		}
	}
	return processed, nil
}

// SyncAllPanels syncs every active panel with bounded fan-out. One panel's
// failure is reported in its result and does not stop the others.
func (s *InboundSyncService) SyncAllPanels(ctx context.Context) ([]PanelSyncResult, error) {
	panels, err := s.panelService.GetActivePanels()
	if err != nil {
		return nil, err
	}

	results := make([]PanelSyncResult, len(panels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.GetPanelFanout())
	for i, panel := range panels {
		g.Go(func() error {
			fetched, processed, err := s.SyncPanelInbounds(gctx, panel.Id)
			results[i] = PanelSyncResult{
				PanelId:   panel.Id,
				PanelName: panel.Name,
				Fetched:   fetched,
				Processed: processed,
				Err:       err,
			}
			if err != nil {
				logger.Warningf("panel %s (%d): inbound sync failed: %v", panel.Name, panel.Id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// transformInbound maps a raw remote inbound into the local schema. The
// nested settings blobs are validated as JSON but stay opaque.
func transformInbound(panelId int, ri xui.Inbound) (*model.InboundListener, error) {
	if ri.Settings != "" {
		var blob map[string]any
		if err := json.Unmarshal([]byte(ri.Settings), &blob); err != nil {
			return nil, err
		}
	}
	if ri.StreamSettings != "" {
		var blob map[string]any
		if err := json.Unmarshal([]byte(ri.StreamSettings), &blob); err != nil {
			return nil, err
		}
	}

	return &model.InboundListener{
		PanelId:         panelId,
		RemoteInboundId: ri.Id,
		Tag:             ri.Tag,
		Protocol:        model.Protocol(ri.Protocol),
		Port:            ri.Port,
		ListenIp:        ri.Listen,
		PanelEnabled:    ri.Enable,
		IsActive:        true,
		Settings:        ri.Settings,
		StreamSettings:  ri.StreamSettings,
		TotalGB:         float64(ri.Total) / (1 << 30),
		ExpiryTime:      ri.ExpiryTime,
	}, nil
}

func inboundChanged(existing, fresh *model.InboundListener) bool {
	return existing.Tag != fresh.Tag ||
		existing.Protocol != fresh.Protocol ||
		existing.Port != fresh.Port ||
		existing.ListenIp != fresh.ListenIp ||
		existing.PanelEnabled != fresh.PanelEnabled ||
		existing.Settings != fresh.Settings ||
		existing.StreamSettings != fresh.StreamSettings ||
		existing.TotalGB != fresh.TotalGB ||
		existing.ExpiryTime != fresh.ExpiryTime ||
		!existing.IsActive
}
