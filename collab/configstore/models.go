package configstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models. ID uses UUID v7
// (time-ordered) for natural chronological ordering without a separate
// created_at sort. CreatedAt and UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// AgentConfigRecord is the durable row backing one agent.Config (§6). The
// four scalar fields and the Inactive flag mirror the interface directly;
// Password is encrypted at rest. Cookies is stored as a JSON object text
// rather than a child table since it is read and written as a whole unit,
// never queried by key.
type AgentConfigRecord struct {
	base
	Identifier string          `gorm:"uniqueIndex;not null"`
	Username   string          `gorm:"not null"`
	Password   EncryptedString `gorm:"type:text;not null"`
	Package    string          `gorm:"not null"`
	Server     string          `gorm:"not null"`
	Cookies    string          `gorm:"type:text;default:'{}'"`
	Inactive   bool            `gorm:"not null;default:false"`
}

func (AgentConfigRecord) TableName() string { return "agent_configs" }

// ModuleSetting is one flat key/value entry of a module's settings,
// including the synthesized "base" and "shared" pseudo-modules. The triple
// (config_id, module, key) is unique: Store.Save deletes a config's rows and
// writes the current set afresh, so no history accumulates.
type ModuleSetting struct {
	base
	ConfigID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_module_settings_lookup,priority:1"`
	Module   string    `gorm:"not null;uniqueIndex:idx_module_settings_lookup,priority:2"`
	Key      string    `gorm:"not null;uniqueIndex:idx_module_settings_lookup,priority:3"`
	Value    string    `gorm:"type:text;not null"`
}

func (ModuleSetting) TableName() string { return "module_settings" }
