package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/xui"
)

func vlessInbound(id int, tag string) xui.Inbound {
	return xui.Inbound{
		Id:             id,
		Remark:         tag,
		Enable:         true,
		Listen:         "",
		Port:           40000 + id,
		Protocol:       "vless",
		Settings:       `{"clients":[],"decryption":"none"}`,
		StreamSettings: `{"network":"tcp","security":"none"}`,
		Tag:            tag,
	}
}

func TestSyncPanelInboundsFirstRun(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	fake := newFakePanel(t,
		vlessInbound(1, "inbound-1"),
		vlessInbound(2, "inbound-2"),
		vlessInbound(3, "inbound-3"),
	)
	panel := makePanel(t, location.Id, "nl-1", fake.URL())

	sync := InboundSyncService{}
	fetched, processed, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, fetched)
	assert.Equal(t, 3, processed)

	var listeners []*model.InboundListener
	require.NoError(t, database.GetDB().Where("panel_id = ?", panel.Id).Order("remote_inbound_id asc").Find(&listeners).Error)
	require.Len(t, listeners, 3)
	for i, l := range listeners {
		assert.Equal(t, i+1, l.RemoteInboundId)
		assert.Equal(t, model.VLESS, l.Protocol)
		assert.True(t, l.IsActive)
		assert.True(t, l.PanelEnabled)
	}
}

func TestSyncPanelInboundsIsIdempotent(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	fake := newFakePanel(t,
		vlessInbound(1, "inbound-1"),
		vlessInbound(2, "inbound-2"),
		vlessInbound(3, "inbound-3"),
	)
	panel := makePanel(t, location.Id, "nl-1", fake.URL())

	sync := InboundSyncService{}
	_, processed, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	fetched, processed, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, fetched)
	assert.Equal(t, 0, processed)
}

func TestSyncDeactivatesVanishedInbound(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	fake := newFakePanel(t,
		vlessInbound(1, "inbound-1"),
		vlessInbound(2, "inbound-2"),
	)
	panel := makePanel(t, location.Id, "nl-1", fake.URL())

	sync := InboundSyncService{}
	_, _, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)

	fake.SetInbounds([]xui.Inbound{vlessInbound(1, "inbound-1")})
	_, processed, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var vanished model.InboundListener
	require.NoError(t, database.GetDB().
		Where("panel_id = ? AND remote_inbound_id = ?", panel.Id, 2).
		First(&vanished).Error)
	assert.False(t, vanished.IsActive)
}

func TestSyncSkipsMalformedInbound(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	broken := vlessInbound(2, "inbound-broken")
	broken.Settings = `{"clients":`
	fake := newFakePanel(t, vlessInbound(1, "inbound-1"), broken)
	panel := makePanel(t, location.Id, "nl-1", fake.URL())

	sync := InboundSyncService{}
	fetched, processed, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
	assert.Equal(t, 1, processed)

	var count int64
	require.NoError(t, database.GetDB().Model(&model.InboundListener{}).
		Where("panel_id = ?", panel.Id).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSyncMarksPanelUnhealthyOnFetchFailure(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	fake := newFakePanel(t, vlessInbound(1, "inbound-1"))
	panel := makePanel(t, location.Id, "nl-1", fake.URL())
	fake.srv.Close()

	sync := InboundSyncService{}
	_, _, err := sync.SyncPanelInbounds(context.Background(), panel.Id)
	require.Error(t, err)

	panelService := PanelService{}
	reloaded, err := panelService.GetPanel(panel.Id)
	require.NoError(t, err)
	assert.False(t, reloaded.Healthy())
}
