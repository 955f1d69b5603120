package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command once. Flag values persist between runs,
// so callers pass every flag a command reads.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_SeedAdjustInspect(t *testing.T) {
	// GIVEN: A fresh database and a seed file
	dir := t.TempDir()
	db := filepath.Join(dir, "points.db")
	seedFile := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(`
users:
  - id: u-alice
    username: alice
grants:
  - user: u-alice
    amount: 100
    description: Welcome bonus
    type: ADMIN-BONUS
`), 0o600))

	// WHEN: The file is seeded and an adjustment applied
	out, err := run(t, "seed", seedFile, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 1 user(s), 1 grant(s)")

	out, err = run(t, "adjust", "--db", db,
		"-u", "u-alice", "--amount=-30", "-d", "Coffee", "-t", "SPEND", "-k", "order-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Balance: 100 -> 70")

	// THEN: Reads reflect both and the chain verifies
	out, err = run(t, "balance", "u-alice", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "u-alice (alice)\t70")

	out, err = run(t, "history", "u-alice", "--db", db, "-p", "1", "-l", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Coffee")
	assert.Contains(t, out, "Welcome bonus")
	assert.Contains(t, out, "Page 1/1 (2 total)")

	out, err = run(t, "verify", "u-alice", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
}

func TestCLI_AdjustRejectsUnknownType(t *testing.T) {
	db := filepath.Join(t.TempDir(), "points.db")

	_, err := run(t, "adjust", "--db", db,
		"-u", "u-1", "-a", "10", "-d", "x", "-t", "GIFT", "-k", "")

	assert.Error(t, err)
}
