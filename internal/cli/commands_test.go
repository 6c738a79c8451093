package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/config"
	"github.com/roach88/uow/internal/migrate"
	"github.com/roach88/uow/internal/testutil"
	"github.com/roach88/uow/internal/uow"
)

// writeConfig writes a SQLite config into a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uow.yaml")
	body := "store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "uow.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testRegistry(migrations ...migrate.Migration) *migrate.Registry {
	reg := migrate.NewRegistry()
	reg.Register(migrations...)
	return reg
}

// execute runs the root command against cfgPath and returns stdout,
// stderr and the command error.
func execute(t *testing.T, reg *migrate.Registry, cfgPath string, args ...string) (string, string, error) {
	t.Helper()
	opts := &RootOptions{
		Migrations: reg,
		Clock:      testutil.NewDeterministicClock(),
	}
	cmd := newRootCommand(opts)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func twoMigrations() *migrate.Registry {
	return testRegistry(
		migrate.New("M_2_Backfill", nil),
		migrate.New("M_1_CreateUsers", nil),
	)
}

func TestMigrateCommand_AppliesPending(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, twoMigrations(), cfg, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "✓ M_1_CreateUsers (1.000s)\n✓ M_2_Backfill (1.000s)\nApplied 2 migration(s), skipped 0\n", out)

	out, _, err = execute(t, twoMigrations(), cfg, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "No pending migrations (baseline 2)\n", out)
}

func TestMigrateCommand_JSON(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, twoMigrations(), cfg, "--format", "json", "migrate")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   *migrate.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Data)
	assert.Equal(t, int64(0), resp.Data.Baseline)
	require.Len(t, resp.Data.Applied, 2)
	assert.Equal(t, "M_2_Backfill", resp.Data.Applied[1].Name)
}

func TestMigrateCommand_FailureStopsRun(t *testing.T) {
	cfg := writeConfig(t)
	reg := testRegistry(
		migrate.New("M_1_CreateUsers", nil),
		migrate.New("M_2_Backfill", func(context.Context, *uow.Context) error {
			return errors.New("backfill exploded")
		}),
		migrate.New("M_3_Index", nil),
	)

	out, errOut, err := execute(t, reg, cfg, "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeMigration)
	assert.Contains(t, out, "Error [E302]")
	assert.Contains(t, out, "backfill exploded")
	assert.Contains(t, errOut, "✓ M_1_CreateUsers")

	out, _, err = execute(t, reg, cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Baseline: 1\n")
	assert.Contains(t, out, "M_2_Backfill")
	assert.Contains(t, out, "M_3_Index")
}

func TestMigrateCommand_BadName(t *testing.T) {
	cfg := writeConfig(t)
	reg := testRegistry(migrate.New("CreateUsers", nil))

	out, _, err := execute(t, reg, cfg, "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E303]")
}

func TestMigrateCommand_DuplicateNumber(t *testing.T) {
	cfg := writeConfig(t)
	reg := testRegistry(migrate.New("M_1_A", nil), migrate.New("M_1_B", nil))

	out, _, err := execute(t, reg, cfg, "migrate")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E303]")
	assert.Contains(t, out, "duplicate migration number")
}

func TestMigrateCommand_MetricsFile(t *testing.T) {
	cfg := writeConfig(t)
	metricsPath := filepath.Join(t.TempDir(), "uow.prom")

	_, _, err := execute(t, twoMigrations(), cfg, "migrate", "--metrics-file", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `uow_migrations_applied_total{number="2"} 1`)
	assert.Contains(t, string(data), "uow_migrations_duration_seconds_count 2")
}

func TestStatusCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, twoMigrations(), cfg, "status")
	require.NoError(t, err)
	assert.Equal(t, "Baseline: 0\nNUMBER  NAME             DESCRIPTION\n1       M_1_CreateUsers  CreateUsers\n2       M_2_Backfill     Backfill\n", out)

	_, _, err = execute(t, twoMigrations(), cfg, "migrate")
	require.NoError(t, err)

	out, _, err = execute(t, twoMigrations(), cfg, "status")
	require.NoError(t, err)
	assert.Equal(t, "Baseline: 2\nUp to date\n", out)
}

func TestHistoryCommand_Text(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := execute(t, twoMigrations(), cfg, "migrate")
	require.NoError(t, err)

	out, _, err := execute(t, twoMigrations(), cfg, "history")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "history_text", []byte(out))
}

func TestHistoryCommand_Empty(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, nil, cfg, "history")
	require.NoError(t, err)
	assert.Equal(t, "No migrations applied\n", out)
}

func TestHistoryCommand_JSON(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := execute(t, twoMigrations(), cfg, "migrate")
	require.NoError(t, err)

	out, _, err := execute(t, twoMigrations(), cfg, "--format", "json", "history")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(1), resp.Data[0].Number)
	assert.Equal(t, "M_1_CreateUsers", resp.Data[0].Name)
	assert.InDelta(t, 1.0, resp.Data[0].ElapsedSeconds, 1e-9)
	assert.False(t, resp.Data[0].AppliedOn.IsZero())
}

func TestStoreOpenFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uow.yaml")
	body := "store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "missing", "uow.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out, _, err := execute(t, nil, path, "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E301]")
}

func TestConfigValidate(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, nil, cfg, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite\n")
	assert.Contains(t, out, "limit: 10000\n")
	assert.Contains(t, out, "commit_timeout: 10m\n")
	assert.Contains(t, out, "level: error\n")
}

func TestConfigValidate_FileArgument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  overflow: fail\n"), 0o644))

	out, _, err := execute(t, nil, writeConfig(t), "--format", "json", "config", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   config.Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "fail", resp.Data.Tracking.Overflow)
	assert.Equal(t, "sqlite", resp.Data.Store.Driver)
}

func TestConfigValidate_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  overflow: evict\n"), 0o644))

	out, _, err := execute(t, nil, path, "config", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E202]")
	assert.Contains(t, out, "tracking.overflow")
}

func TestConfigValidate_Missing(t *testing.T) {
	out, _, err := execute(t, nil, filepath.Join(t.TempDir(), "nope.yaml"), "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E005]")
}

func TestLoadConfig_DefaultsWithEnv(t *testing.T) {
	orig := lookupEnv
	t.Cleanup(func() { lookupEnv = orig })
	lookupEnv = func(key string) (string, bool) {
		if key == config.EnvStoreDSN {
			return "/data/app.db", true
		}
		return "", false
	}

	cfg, err := loadConfig(&RootOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/data/app.db", cfg.Store.DSN)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}
