// Package service provides the orchestration services of the multix
// engine: panel and location management, inbound synchronization, panel
// selection and client provisioning.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/multix-dev/multix/config"
	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/util/crypto"
	"github.com/multix-dev/multix/xui"
)

// sessions is the engine-wide session token cache shared by every remote
// client. It is the only cross-call mutable resource per panel.
var sessions = xui.NewSessionCache(config.GetSessionTTL())

// PanelService manages the panel inventory and owns remote client
// construction, including on-demand credential decryption.
type PanelService struct{}

// CreatePanel registers a new panel, encrypting its credentials before
// they touch the database.
func (s *PanelService) CreatePanel(name string, panelType model.PanelType, baseUrl string, locationId int, username, password string) (*model.Panel, error) {
	db := database.GetDB()

	var location model.Location
	if err := db.First(&location, locationId).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("location %d: %w", locationId, common.ErrNotFound)
		}
		return nil, err
	}

	key := config.GetVaultKey()
	encUsername, err := crypto.Encrypt(username, key)
	if err != nil {
		return nil, err
	}
	encPassword, err := crypto.Encrypt(password, key)
	if err != nil {
		return nil, err
	}

	panel := &model.Panel{
		Name:       name,
		BaseUrl:    strings.TrimRight(baseUrl, "/"),
		PanelType:  panelType,
		LocationId: locationId,
		Username:   encUsername,
		Password:   encPassword,
		IsActive:   true,
	}
	if err := db.Create(panel).Error; err != nil {
		return nil, err
	}
	return panel, nil
}

func (s *PanelService) GetPanel(id int) (*model.Panel, error) {
	db := database.GetDB()
	var panel model.Panel
	if err := db.First(&panel, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("panel %d: %w", id, common.ErrNotFound)
		}
		return nil, err
	}
	return &panel, nil
}

func (s *PanelService) GetAllPanels() ([]*model.Panel, error) {
	db := database.GetDB()
	var panels []*model.Panel
	err := db.Order("id asc").Find(&panels).Error
	return panels, err
}

func (s *PanelService) GetActivePanels() ([]*model.Panel, error) {
	db := database.GetDB()
	var panels []*model.Panel
	err := db.Where("is_active = ?", true).Order("id asc").Find(&panels).Error
	return panels, err
}

func (s *PanelService) UpdatePanel(panel *model.Panel) error {
	db := database.GetDB()
	return db.Save(panel).Error
}

// DeletePanel removes a panel. Panels with active provisioned clients are
// protected: the callers must migrate or delete the clients first.
func (s *PanelService) DeletePanel(id int) error {
	db := database.GetDB()

	var activeClients int64
	err := db.Model(&model.PanelClient{}).
		Where("panel_id = ? AND is_active = ?", id, true).
		Count(&activeClients).Error
	if err != nil {
		return err
	}
	if activeClients > 0 {
		return common.NewServiceError("panel %d still has %d active clients", id, activeClients)
	}

	result := db.Delete(&model.Panel{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("panel %d: %w", id, common.ErrNotFound)
	}
	sessions.Invalidate(id)
	return nil
}

// RemoteClient builds an authenticated-channel client for a panel,
// decrypting its credentials on demand. Plaintext lives only for the
// lifetime of the returned client.
func (s *PanelService) RemoteClient(panel *model.Panel) (*xui.Client, error) {
	key := config.GetVaultKey()
	username, err := crypto.Decrypt(panel.Username, key)
	if err != nil {
		return nil, fmt.Errorf("panel %d credentials: %w", panel.Id, err)
	}
	password, err := crypto.Decrypt(panel.Password, key)
	if err != nil {
		return nil, fmt.Errorf("panel %d credentials: %w", panel.Id, err)
	}
	return xui.NewClient(panel.Id, panel.BaseUrl, username, password, config.GetPanelTimeout(), sessions), nil
}

// ProbePanel checks reachability and authentication without persisting
// anything. The health jobs batch the persisted outcome per cycle.
func (s *PanelService) ProbePanel(ctx context.Context, panel *model.Panel) (bool, string) {
	client, err := s.RemoteClient(panel)
	if err != nil {
		return false, err.Error()
	}
	// Probe with fresh credentials rather than a cached session, otherwise
	// a stale-but-cached cookie would mask revoked credentials.
	sessions.Invalidate(panel.Id)
	if err := client.Login(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// CheckPanelHealth probes one panel and persists the outcome. Returns the
// health flag and a human-readable message for operator tooling.
func (s *PanelService) CheckPanelHealth(ctx context.Context, panelId int) (bool, string, error) {
	panel, err := s.GetPanel(panelId)
	if err != nil {
		return false, "", err
	}
	healthy, msg := s.ProbePanel(ctx, panel)
	if err := s.SetPanelHealth(panel, healthy); err != nil {
		return healthy, msg, err
	}
	if !healthy {
		logger.Warningf("panel %s (%d) failed health check: %s", panel.Name, panel.Id, msg)
	}
	return healthy, msg, nil
}

// SetPanelHealth updates the tri-state health flag and the check timestamp.
func (s *PanelService) SetPanelHealth(panel *model.Panel, healthy bool) error {
	return s.SetPanelHealthTx(database.GetDB(), panel, healthy)
}

// SetPanelHealthTx is the transaction-aware variant. The health job uses it
// to commit a whole probe cycle in one batch.
func (s *PanelService) SetPanelHealthTx(tx *gorm.DB, panel *model.Panel, healthy bool) error {
	panel.IsHealthy = &healthy
	panel.LastChecked = time.Now().Unix()
	return tx.Model(panel).Updates(map[string]any{
		"is_healthy":   healthy,
		"last_checked": panel.LastChecked,
	}).Error
}
