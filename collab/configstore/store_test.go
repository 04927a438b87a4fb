package configstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/botscript-go/botscript/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require.NoError(t, InitEncryption([]byte("01234567890123456789012345678901")))

	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop()})
	require.NoError(t, err)
	return db
}

func sampleModuleSettings() map[string]map[string]string {
	return map[string]map[string]string{
		"base":   {"wait_time_factor": "1.00", "proxy": ""},
		"gather": {"active": "1", "interval": "60"},
	}
}

func TestSaveThenLoadRoundTripsConfig(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()

	original := config.New("alice", "hunter2", "demo", "http://example.invalid", sampleModuleSettings())
	original.SetCookies(map[string]string{"sid": "abc"})

	require.NoError(t, store.Save(ctx, "alice/srv", original))

	loaded, err := store.Load(ctx, "alice/srv")
	require.NoError(t, err)

	require.Equal(t, original.Username(), loaded.Username())
	require.Equal(t, original.Password(), loaded.Password())
	require.Equal(t, original.Package(), loaded.Package())
	require.Equal(t, original.Server(), loaded.Server())
	require.Equal(t, original.ModuleSettings(), loaded.ModuleSettings())
	require.Equal(t, original.Cookies(), loaded.Cookies())
	require.Equal(t, original.Inactive(), loaded.Inactive())
}

func TestLoadUnknownIdentifierReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	store := New(db)

	_, err := store.Load(context.Background(), "nobody")
	require.Error(t, err)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestSaveReplacesStaleModuleSettings(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()

	first := config.New("alice", "hunter2", "demo", "http://example.invalid", sampleModuleSettings())
	require.NoError(t, store.Save(ctx, "alice/srv", first))

	pruned := map[string]map[string]string{
		"base": {"wait_time_factor": "1.00", "proxy": ""},
	}
	second := config.New("alice", "hunter2", "demo", "http://example.invalid", pruned)
	require.NoError(t, store.Save(ctx, "alice/srv", second))

	loaded, err := store.Load(ctx, "alice/srv")
	require.NoError(t, err)
	_, hasGather := loaded.ModuleSettings()["gather"]
	require.False(t, hasGather)
}

func TestSaveUpdatesExistingRowRatherThanDuplicating(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfg := config.New("alice", "hunter2", "demo", "http://example.invalid", sampleModuleSettings())
	require.NoError(t, store.Save(ctx, "alice/srv", cfg))

	cfg.Set("gather_interval", "120")
	require.NoError(t, store.Save(ctx, "alice/srv", cfg))

	var count int64
	require.NoError(t, db.Model(&AgentConfigRecord{}).Where("identifier = ?", "alice/srv").Count(&count).Error)
	require.Equal(t, int64(1), count)

	loaded, err := store.Load(ctx, "alice/srv")
	require.NoError(t, err)
	require.Equal(t, "120", loaded.ModuleSettings()["gather"]["interval"])
}

func TestEncryptedPasswordIsNotStoredInPlaintext(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfg := config.New("alice", "super-secret-password", "demo", "http://example.invalid", sampleModuleSettings())
	require.NoError(t, store.Save(ctx, "alice/srv", cfg))

	var rec AgentConfigRecord
	require.NoError(t, db.Where("identifier = ?", "alice/srv").First(&rec).Error)

	var raw string
	require.NoError(t, db.Raw("SELECT password FROM agent_configs WHERE identifier = ?", "alice/srv").Scan(&raw).Error)
	require.NotContains(t, raw, "super-secret-password")
}
