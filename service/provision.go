package service

import (
	"context"
	"fmt"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/xui"
)

// ProvisionService orchestrates per-subscriber credential lifecycle on a
// chosen panel and inbound. It records the native identifier locally only
// after the remote call succeeded, so a remote failure leaves no partial
// state. Callers supply the full (identifier, protocol, inbound) triple on
// later calls; protocol is never inferred from identifier shape.
type ProvisionService struct {
	panelService PanelService
}

// AddClientToPanel provisions a client on the inbound (addressed by its
// local listener id) and persists the native identifier mapping.
func (s *ProvisionService) AddClientToPanel(ctx context.Context, panelId, inboundId int, spec xui.ClientSpec, protocol model.Protocol) (*xui.AddClientResult, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return nil, err
	}
	listener, err := s.getListener(panelId, inboundId)
	if err != nil {
		return nil, err
	}
	if !listener.IsActive {
		return nil, common.NewServiceError("inbound %d on panel %d is deactivated", inboundId, panelId)
	}

	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return nil, err
	}
	result, err := client.AddClient(ctx, listener.RemoteInboundId, spec, protocol)
	if err != nil {
		return nil, err
	}

	record := &model.PanelClient{
		PanelId:    panelId,
		InboundId:  listener.Id,
		Protocol:   protocol,
		Identifier: result.Identifier.Value,
		Email:      spec.Email,
		IsActive:   true,
	}
	if err := database.GetDB().Create(record).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateClientOnPanel merges updates into the remote client entry,
// optionally resetting its traffic counters.
func (s *ProvisionService) UpdateClientOnPanel(ctx context.Context, panelId int, ident xui.ClientIdentifier, inboundId int, updates xui.ClientSpec, resetTraffic bool) (bool, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return false, err
	}
	listener, err := s.getListener(panelId, inboundId)
	if err != nil {
		return false, err
	}

	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return false, err
	}
	if err := client.UpdateClient(ctx, listener.RemoteInboundId, ident, updates); err != nil {
		return false, err
	}
	if resetTraffic {
		if _, err := client.ResetClientTraffic(ctx, listener.RemoteInboundId, ident); err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteClientFromPanel removes the remote client and deactivates the
// local record.
func (s *ProvisionService) DeleteClientFromPanel(ctx context.Context, panelId, inboundId int, ident xui.ClientIdentifier) (bool, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return false, err
	}
	listener, err := s.getListener(panelId, inboundId)
	if err != nil {
		return false, err
	}

	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return false, err
	}
	if err := client.DeleteClient(ctx, listener.RemoteInboundId, ident); err != nil {
		if !common.IsNotFound(err) {
			return false, err
		}
		// Already gone remotely; still retire the local record.
	}

	err = database.GetDB().Model(&model.PanelClient{}).
		Where("panel_id = ? AND identifier = ? AND protocol = ?", panelId, ident.Value, ident.Protocol).
		Update("is_active", false).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetClientUsage returns the remote traffic counters for a client, or nil
// when the panel no longer knows it.
func (s *ProvisionService) GetClientUsage(ctx context.Context, panelId int, ident xui.ClientIdentifier) (*xui.ClientTraffic, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return nil, err
	}
	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return nil, err
	}
	return client.GetClientTraffic(ctx, ident)
}

// ResetClientTraffic zeroes the remote counters. A vanished client is a
// no-op reported as false.
func (s *ProvisionService) ResetClientTraffic(ctx context.Context, panelId, inboundId int, ident xui.ClientIdentifier) (bool, error) {
	panel, err := s.panelService.GetPanel(panelId)
	if err != nil {
		return false, err
	}
	listener, err := s.getListener(panelId, inboundId)
	if err != nil {
		return false, err
	}
	client, err := s.panelService.RemoteClient(panel)
	if err != nil {
		return false, err
	}
	return client.ResetClientTraffic(ctx, listener.RemoteInboundId, ident)
}

func (s *ProvisionService) getListener(panelId, inboundId int) (*model.InboundListener, error) {
	db := database.GetDB()
	var listener model.InboundListener
	err := db.Where("id = ? AND panel_id = ?", inboundId, panelId).First(&listener).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("inbound %d on panel %d: %w", inboundId, panelId, common.ErrNotFound)
		}
		return nil, err
	}
	return &listener, nil
}
