package service

import (
	"fmt"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/util/common"
)

// LocationService manages the geographic groupings panels belong to.
type LocationService struct{}

func (s *LocationService) AddLocation(name, flag string) (*model.Location, error) {
	db := database.GetDB()
	location := &model.Location{Name: name, Flag: flag}
	if err := db.Create(location).Error; err != nil {
		return nil, err
	}
	return location, nil
}

func (s *LocationService) GetLocation(id int) (*model.Location, error) {
	db := database.GetDB()
	var location model.Location
	if err := db.First(&location, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("location %d: %w", id, common.ErrNotFound)
		}
		return nil, err
	}
	return &location, nil
}

func (s *LocationService) GetAllLocations() ([]*model.Location, error) {
	db := database.GetDB()
	var locations []*model.Location
	err := db.Order("id asc").Find(&locations).Error
	return locations, err
}

// DeleteLocation removes a location unless active panels still reference
// it.
func (s *LocationService) DeleteLocation(id int) error {
	db := database.GetDB()

	var activePanels int64
	err := db.Model(&model.Panel{}).
		Where("location_id = ? AND is_active = ?", id, true).
		Count(&activePanels).Error
	if err != nil {
		return err
	}
	if activePanels > 0 {
		return common.NewServiceError("location %d still has %d active panels", id, activePanels)
	}

	result := db.Delete(&model.Location{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("location %d: %w", id, common.ErrNotFound)
	}
	return nil
}
