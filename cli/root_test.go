package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qurban-ledger/config"
)

// execute runs the root command with a fresh environment and returns
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{config.EnvPort, config.EnvDB, config.EnvLogLevel, config.EnvCORSOrigins,
		config.EnvEventBuffer, config.EnvMonitor, config.EnvStaleAfter} {
		t.Setenv(k, "")
	}

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "data", "qurban.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "qurban", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"serve", "seed", "analyze"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	db := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, db)
	assert.Equal(t, "", db.DefValue)

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("port"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "seed", "--list")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// =============================================================================
// SEED
// =============================================================================

func TestSeed_BuiltinMatchesGoldenTrace(t *testing.T) {
	// GIVEN: A fresh database file in a directory that does not exist yet
	db := tempDB(t)

	// WHEN: Seeding a built-in scenario
	out, err := execute(t, "--db", db, "seed", "round-trip")

	// THEN: The trace matches the scenario package's golden file
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "scenario", "testdata", "golden", "round-trip.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), out)
	assert.FileExists(t, db)
}

func TestSeed_JSON(t *testing.T) {
	out, err := execute(t, "--db", ":memory:", "--format", "json", "seed", "recount")

	require.NoError(t, err)
	var res SeedResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "recount", res.Name)
	assert.Empty(t, res.Error)
	assert.NotEmpty(t, res.Trace)
}

func TestSeed_Errors(t *testing.T) {
	_, err := execute(t, "--db", ":memory:", "seed")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--db", ":memory:", "seed", "no-such-scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	// A scenario that fails while playing is a plain failure
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: over-move
products:
  - {key: a, name: Sapi, target: 1}
steps:
  - move: {product: a, place: WEIGH, value: 1}
`), 0o600))
	out, err := execute(t, "--db", ":memory:", "seed", path)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "scenario over-move")
}

func TestSeed_List(t *testing.T) {
	out, err := execute(t, "seed", "--list")

	require.NoError(t, err)
	assert.Contains(t, out, "weigh-ship-receive")
	assert.Contains(t, out, "cancelled-shipment")
}

// =============================================================================
// ANALYZE
// =============================================================================

func TestAnalyze_ReportsOpenDiscrepancy(t *testing.T) {
	// GIVEN: A database where 10 were shipped and 8 received
	db := tempDB(t)
	path := filepath.Join(t.TempDir(), "short.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: short
products:
  - {key: a, name: Domba, target: 10}
steps:
  - add: {product: a, place: WEIGH, value: 10}
  - ship: {key: t1, items: [{product: a, quantity: 10}]}
  - receive: {shipment: t1, items: [{product: a, quantity: 8}]}
`), 0o600))
	_, err := execute(t, "--db", db, "seed", path)
	require.NoError(t, err)

	// WHEN: Analyzing the same file
	out, err := execute(t, "--db", db, "analyze")

	// THEN: The discrepancy and all three previews are listed
	require.NoError(t, err)
	assert.Contains(t, out, `product="Domba"`)
	assert.Contains(t, out, "expected=10 actual=8")
	assert.Contains(t, out, "inventory_delta=-2")
	assert.Contains(t, out, "di_inventori := 10")
	assert.Contains(t, out, "di_timbang := 2")
	assert.Contains(t, out, "kumulatif := 8")

	// AND: --strict turns open discrepancies into a failing exit code
	_, err = execute(t, "--db", db, "analyze", "--strict")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, "--db", db, "--format", "json", "analyze")
	require.NoError(t, err)
	var report []DiscrepancyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report, 1)
	require.Len(t, report[0].Previews, 3)
}

func TestAnalyze_NothingOpen(t *testing.T) {
	out, err := execute(t, "--db", ":memory:", "analyze", "--strict")

	require.NoError(t, err)
	assert.Equal(t, "no open discrepancies\n", out)
}
