package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/botscript-go/botscript/agent"
	"github.com/botscript-go/botscript/config"
)

// Store persists agent.Config under a stable identifier (§6: "the core
// reads/writes an opaque Config interface" — persistence itself is a
// collaborator's job, not core's).
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB (see Open).
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load reads the configuration stored under identifier into a fresh
// config.MemConfig. Returns gorm.ErrRecordNotFound if no row exists.
func (s *Store) Load(ctx context.Context, identifier string) (*config.MemConfig, error) {
	var rec AgentConfigRecord
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("configstore: load %s: %w", identifier, err)
	}

	var settingRows []ModuleSetting
	if err := s.db.WithContext(ctx).Where("config_id = ?", rec.ID).Find(&settingRows).Error; err != nil {
		return nil, fmt.Errorf("configstore: load module settings for %s: %w", identifier, err)
	}

	settings := make(map[string]map[string]string)
	for _, row := range settingRows {
		if settings[row.Module] == nil {
			settings[row.Module] = make(map[string]string)
		}
		settings[row.Module][row.Key] = row.Value
	}

	cfg := config.New(rec.Username, string(rec.Password), rec.Package, rec.Server, settings)
	cfg.SetInactive(rec.Inactive)

	var cookies map[string]string
	if rec.Cookies != "" {
		if err := json.Unmarshal([]byte(rec.Cookies), &cookies); err != nil {
			return nil, fmt.Errorf("configstore: decode cookies for %s: %w", identifier, err)
		}
	}
	cfg.SetCookies(cookies)

	return cfg, nil
}

// Save upserts cfg's full state under identifier: the agent_configs row and
// every module_settings row are replaced atomically, so a Save always
// leaves the store matching cfg exactly, never accumulating stale keys a
// caller has since removed.
func (s *Store) Save(ctx context.Context, identifier string, cfg agent.Config) error {
	cookiesJSON, err := json.Marshal(cfg.Cookies())
	if err != nil {
		return fmt.Errorf("configstore: encode cookies for %s: %w", identifier, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec AgentConfigRecord
		err := tx.Where("identifier = ?", identifier).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = AgentConfigRecord{Identifier: identifier}
		case err != nil:
			return fmt.Errorf("configstore: find %s: %w", identifier, err)
		}

		rec.Username = cfg.Username()
		rec.Password = EncryptedString(cfg.Password())
		rec.Package = cfg.Package()
		rec.Server = cfg.Server()
		rec.Cookies = string(cookiesJSON)
		rec.Inactive = cfg.Inactive()

		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("configstore: save %s: %w", identifier, err)
		}

		if err := tx.Where("config_id = ?", rec.ID).Delete(&ModuleSetting{}).Error; err != nil {
			return fmt.Errorf("configstore: clear module settings for %s: %w", identifier, err)
		}

		var rows []ModuleSetting
		for mod, kv := range cfg.ModuleSettings() {
			for key, value := range kv {
				rows = append(rows, ModuleSetting{ConfigID: rec.ID, Module: mod, Key: key, Value: value})
			}
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("configstore: write module settings for %s: %w", identifier, err)
			}
		}

		return nil
	})
}
