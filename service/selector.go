package service

import (
	"fmt"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
)

// SelectOptions narrows the candidate set before a strategy is applied.
type SelectOptions struct {
	Protocol        model.Protocol
	PremiumRequired bool
	ExcludeIds      []int
}

// SelectorService picks the panel a new subscriber lands on.
type SelectorService struct {
	settingService SettingService
}

// SelectPanel returns the best candidate at a location under the given
// strategy, or nil when no panel qualifies. An empty result is a normal
// outcome that callers translate into user-facing messaging, not an error.
func (s *SelectorService) SelectPanel(locationId int, strategy model.SelectionStrategy, opts SelectOptions) (*model.Panel, error) {
	candidates, err := s.candidates(locationId, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	switch strategy {
	case model.StrategyLeastLoad, model.StrategyBalanced:
		return s.pickLeastLoad(candidates)
	case model.StrategyRoundRobin:
		return s.pickRoundRobin(locationId, candidates)
	case model.StrategyPriority:
		return candidates[0], nil
	default:
		logger.Warningf("unknown selection strategy %q, falling back to priority", strategy)
		return candidates[0], nil
	}
}

// candidates returns active, healthy panels at the location ordered by
// descending priority then id, minus exclusions and filters.
func (s *SelectorService) candidates(locationId int, opts SelectOptions) ([]*model.Panel, error) {
	db := database.GetDB()

	query := db.Where("location_id = ? AND is_active = ? AND is_healthy = ?", locationId, true, true)
	if opts.PremiumRequired {
		query = query.Where("is_premium = ?", true)
	}
	if len(opts.ExcludeIds) > 0 {
		query = query.Where("id NOT IN ?", opts.ExcludeIds)
	}

	var panels []*model.Panel
	if err := query.Order("priority desc, id asc").Find(&panels).Error; err != nil {
		return nil, err
	}
	if opts.Protocol == "" || len(panels) == 0 {
		return panels, nil
	}

	// A candidate must expose at least one active inbound of the requested
	// protocol, otherwise provisioning on it cannot succeed.
	ids := make([]int, 0, len(panels))
	for _, p := range panels {
		ids = append(ids, p.Id)
	}
	var withProtocol []int
	err := db.Model(&model.InboundListener{}).
		Distinct("panel_id").
		Where("panel_id IN ? AND protocol = ? AND is_active = ? AND panel_enabled = ?", ids, opts.Protocol, true, true).
		Pluck("panel_id", &withProtocol).Error
	if err != nil {
		return nil, err
	}
	eligible := make(map[int]bool, len(withProtocol))
	for _, id := range withProtocol {
		eligible[id] = true
	}
	filtered := panels[:0]
	for _, p := range panels {
		if eligible[p.Id] {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// pickLeastLoad counts active clients per candidate in one grouped query
// and picks the minimum; ties resolve to the earliest candidate.
func (s *SelectorService) pickLeastLoad(candidates []*model.Panel) (*model.Panel, error) {
	db := database.GetDB()

	ids := make([]int, 0, len(candidates))
	for _, p := range candidates {
		ids = append(ids, p.Id)
	}

	type panelCount struct {
		PanelId int
		Cnt     int64
	}
	var rows []panelCount
	err := db.Model(&model.PanelClient{}).
		Select("panel_id as panel_id, count(*) as cnt").
		Where("panel_id IN ? AND is_active = ?", ids, true).
		Group("panel_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.PanelId] = r.Cnt
	}

	best := candidates[0]
	bestCount := counts[best.Id]
	for _, p := range candidates[1:] {
		if counts[p.Id] < bestCount {
			best = p
			bestCount = counts[p.Id]
		}
	}
	return best, nil
}

// pickRoundRobin advances the per-location cursor stored in settings. A
// lost race between concurrent selections only skews the distribution,
// never correctness, so no locking is taken.
func (s *SelectorService) pickRoundRobin(locationId int, candidates []*model.Panel) (*model.Panel, error) {
	key := fmt.Sprintf("selector:last_panel:%d", locationId)

	lastId, err := s.settingService.GetInt(key)
	if err != nil {
		return nil, err
	}

	next := 0
	for i, p := range candidates {
		if p.Id == lastId {
			next = (i + 1) % len(candidates)
			break
		}
	}

	chosen := candidates[next]
	if err := s.settingService.SetInt(key, chosen.Id); err != nil {
		return nil, err
	}
	return chosen, nil
}
