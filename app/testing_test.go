package app

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shawngo/netlify-forms/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache DB keeps every pooled connection of this test on
	// the same in-memory database while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Customer{}, &Submission{}))
	return db
}

func newTestStore(t *testing.T) *SubmissionStore {
	t.Helper()
	return &SubmissionStore{log: zap.NewNop(), db: newTestDB(t)}
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ServerDNS = "http://example.test"
	cfg.Netlify.APIToken = "test-token"
	cfg.Netlify.TimeoutSecs = 5
	cfg.ExportChunkSize = 500
	return cfg
}
