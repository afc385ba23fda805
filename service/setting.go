package service

import (
	"strconv"

	"github.com/multix-dev/multix/database"
	"github.com/multix-dev/multix/database/model"
)

// SettingService is a small typed layer over the settings key/value table.
// Its main customer is the selector's per-location round-robin cursor.
type SettingService struct{}

// GetString returns the value for key, or "" when the key is absent.
func (s *SettingService) GetString(key string) (string, error) {
	db := database.GetDB()
	var setting model.Setting
	err := db.Where("key = ?", key).First(&setting).Error
	if err != nil {
		if database.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

// SetString upserts a key/value pair. Concurrent writers for the same key
// are last-writer-wins, which is acceptable for cursor state.
func (s *SettingService) SetString(key, value string) error {
	db := database.GetDB()
	var setting model.Setting
	err := db.Where("key = ?", key).First(&setting).Error
	if err != nil {
		if database.IsNotFound(err) {
			return db.Create(&model.Setting{Key: key, Value: value}).Error
		}
		return err
	}
	setting.Value = value
	return db.Save(&setting).Error
}

// GetInt returns the integer value for key, or 0 when absent or malformed.
func (s *SettingService) GetInt(key string) (int, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *SettingService) SetInt(key string, value int) error {
	return s.SetString(key, strconv.Itoa(value))
}
