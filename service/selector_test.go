package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
)

func TestSelectPanelNoCandidates(t *testing.T) {
	setup(t)
	location := makeLocation(t, "Empty")

	selector := SelectorService{}
	panel, err := selector.SelectPanel(location.Id, model.StrategyLeastLoad, SelectOptions{})
	require.NoError(t, err)
	assert.Nil(t, panel)
}

func TestSelectPanelLeastLoad(t *testing.T) {
	setup(t)
	location := makeLocation(t, "NL")

	loads := []int{3, 1, 4, 1, 5}
	panels := make([]*model.Panel, 0, len(loads))
	for i, n := range loads {
		p := makePanel(t, location.Id, fmt.Sprintf("nl-%d", i), fmt.Sprintf("https://nl%d.example.com", i))
		addActiveClients(t, p.Id, n)
		panels = append(panels, p)
	}

	selector := SelectorService{}
	chosen, err := selector.SelectPanel(location.Id, model.StrategyLeastLoad, SelectOptions{})
	require.NoError(t, err)
	require.NotNil(t, chosen)
	// Two panels are tied at one client; the earlier candidate wins.
	assert.Equal(t, panels[1].Id, chosen.Id)
}

func TestSelectPanelLeastLoadPrefersIdle(t *testing.T) {
	setup(t)
	location := makeLocation(t, "DE")

	busy := makePanel(t, location.Id, "de-busy", "https://de1.example.com")
	idle := makePanel(t, location.Id, "de-idle", "https://de2.example.com")
	addActiveClients(t, busy.Id, 5)

	selector := SelectorService{}
	chosen, err := selector.SelectPanel(location.Id, model.StrategyLeastLoad, SelectOptions{})
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, idle.Id, chosen.Id)
}

func TestSelectPanelRoundRobinAlternates(t *testing.T) {
	setup(t)
	location := makeLocation(t, "FR")

	a := makePanel(t, location.Id, "fr-a", "https://fr1.example.com")
	b := makePanel(t, location.Id, "fr-b", "https://fr2.example.com")

	selector := SelectorService{}
	var picked []int
	for i := 0; i < 3; i++ {
		chosen, err := selector.SelectPanel(location.Id, model.StrategyRoundRobin, SelectOptions{})
		require.NoError(t, err)
		require.NotNil(t, chosen)
		picked = append(picked, chosen.Id)
	}
	assert.Equal(t, []int{a.Id, b.Id, a.Id}, picked)
}

func TestSelectPanelUnknownStrategyFallsBackToPriority(t *testing.T) {
	setup(t)
	location := makeLocation(t, "US")

	low := makePanel(t, location.Id, "us-low", "https://us1.example.com")
	high := makePanel(t, location.Id, "us-high", "https://us2.example.com")
	low.Priority = 1
	high.Priority = 5
	panelService := PanelService{}
	require.NoError(t, panelService.UpdatePanel(low))
	require.NoError(t, panelService.UpdatePanel(high))

	selector := SelectorService{}
	chosen, err := selector.SelectPanel(location.Id, model.SelectionStrategy("weighted"), SelectOptions{})
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, high.Id, chosen.Id)
}

func TestSelectPanelFilters(t *testing.T) {
	setup(t)
	location := makeLocation(t, "UK")

	vlessPanel := makePanel(t, location.Id, "uk-vless", "https://uk1.example.com")
	ssPanel := makePanel(t, location.Id, "uk-ss", "https://uk2.example.com")
	unhealthy := makePanel(t, location.Id, "uk-down", "https://uk3.example.com")

	panelService := PanelService{}
	require.NoError(t, panelService.SetPanelHealth(unhealthy, false))

	db := database.GetDB()
	require.NoError(t, db.Create(&model.InboundListener{
		PanelId: vlessPanel.Id, RemoteInboundId: 1, Protocol: model.VLESS,
		Port: 443, PanelEnabled: true, IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&model.InboundListener{
		PanelId: ssPanel.Id, RemoteInboundId: 1, Protocol: model.Shadowsocks,
		Port: 8388, PanelEnabled: true, IsActive: true,
	}).Error)

	selector := SelectorService{}

	chosen, err := selector.SelectPanel(location.Id, model.StrategyPriority, SelectOptions{Protocol: model.VLESS})
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, vlessPanel.Id, chosen.Id)

	chosen, err = selector.SelectPanel(location.Id, model.StrategyPriority, SelectOptions{ExcludeIds: []int{vlessPanel.Id}})
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, ssPanel.Id, chosen.Id)

	// Nothing premium at this location.
	chosen, err = selector.SelectPanel(location.Id, model.StrategyPriority, SelectOptions{PremiumRequired: true})
	require.NoError(t, err)
	assert.Nil(t, chosen)
}
