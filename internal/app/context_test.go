package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contour/internal/config"
	"contour/internal/repo"
	"contour/internal/store/supabase"
)

func TestOpenSQLite(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Log: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close()
	_, ok := a.Engine.Maps.(repo.Repo)
	assert.True(t, ok)
	assert.NotNil(t, a.Engine.Metrics)
	assert.Equal(t, "closed", a.Engine.ResearchState())
}

func TestOpenSupabase(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "supabase"
	cfg.Storage.Supabase.URL = "https://example.supabase.co"
	cfg.Storage.Supabase.ServiceKey = "service-key"
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: cfg, Log: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close()
	_, ok := a.Engine.Maps.(*supabase.Store)
	assert.True(t, ok)
}
