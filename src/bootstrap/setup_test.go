package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"card-market-tracker/src/config"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `entities:
  - id: op-09
    display_name: Emperors in the New World
    alias_key: OP-09
  - id: op-10
    display_name: Royal Blood
    alias_key: OP-10
`

func testConfig(t *testing.T, historyBackend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogYAML), 0644))

	conf := &config.Config{MConfig: &models.MConfig{
		Name: "card-tracker",
		Host: "127.0.0.1",
		Port: 8000,
		Storage: models.MStorageConfig{
			DBType:         "sqlite",
			DBPath:         ":memory:",
			HistoryBackend: historyBackend,
			HistoryPath:    filepath.Join(dir, "history"),
			RunStatusPath:  filepath.Join(dir, "run_status.json"),
		},
		Catalog: models.MCatalogConfig{Provider: "yaml", Path: catalogPath},
		Collectors: models.MCollectorsConfig{
			API: models.MAPICollectorConfig{Enabled: true, BaseURL: "http://127.0.0.1:1", APIKey: "k"},
			Browser: models.MBrowserCollectorConfig{
				Enabled:     true,
				BaseURL:     "http://127.0.0.1:1",
				ProductPath: "/products/%s",
			},
		},
	}}
	conf.ApplyDefaults()
	require.NoError(t, conf.Validate())
	return conf
}

func TestBuildWiresPhasesInOrder(t *testing.T) {
	for _, backend := range []string{"json", "sql"} {
		t.Run(backend, func(t *testing.T) {
			app, err := Build(testConfig(t, backend), logger.NewNopLogger())
			require.NoError(t, err)
			defer app.Close()

			assert.Equal(t, []string{"api", "browser"}, app.Sources.Names())
			assert.Equal(t, app.Config.Storage.RetentionDays, app.Orchestrator.RetentionDays)

			entities, err := app.Catalog.LoadCatalog(context.Background())
			require.NoError(t, err)
			assert.Len(t, entities, 2)
		})
	}
}

func TestLoadLatestAndSyncCatalog(t *testing.T) {
	conf := testConfig(t, "sql")
	app, err := Build(conf, logger.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	latest, err := app.LoadLatest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	rank := 1
	vol := 12.5
	require.NoError(t, app.DB.SaveUnifiedMetrics("2024-05-01", []models.MUnifiedMetrics{
		{EntityID: "op-09", Date: "2024-05-01", UnifiedDailyVolume: &vol, CurrentRank: &rank},
	}))

	latest, err = app.LoadLatest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2024-05-01", latest.Date)
	assert.Equal(t, "INITIAL", latest.Type)
	require.Contains(t, latest.Records, "op-09")
	assert.Equal(t, 12.5, *latest.Records["op-09"].UnifiedDailyVolume)

	n, err := app.SyncCatalog(context.Background(), conf.Catalog.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fromDB, err := app.DB.LoadCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"op-09", "op-10"}, []string{fromDB[0].ID, fromDB[1].ID})
}

func TestBuildRejectsNoCollectors(t *testing.T) {
	conf := testConfig(t, "json")
	conf.Collectors.API.Enabled = false
	conf.Collectors.Browser.Enabled = false

	_, err := Build(conf, logger.NewNopLogger())
	assert.Error(t, err)
}
