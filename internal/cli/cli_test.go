package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ham/internal/config"
	"github.com/rcliao/ham/internal/processor"
)

func TestParseMetaKeepsJSONTypes(t *testing.T) {
	got := parseMeta([]string{"speaker=user", "visits=3", "protected=true", "note=a=b"})
	assert.Equal(t, "user", got["speaker"])
	assert.Equal(t, 3.0, got["visits"])
	assert.Equal(t, true, got["protected"])
	assert.Equal(t, "a=b", got["note"])
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}

func TestOutputFormats(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	formatFlag = "json"
	output(cmd, map[string]int{"n": 1}, func() string { return "one" })
	assert.JSONEq(t, `{"n":1}`, buf.String())

	buf.Reset()
	formatFlag = "text"
	defer func() { formatFlag = "json" }()
	output(cmd, map[string]int{"n": 1}, func() string { return "one" })
	assert.Equal(t, "one\n", buf.String())
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"store", "recall", "query", "search", "context", "template", "precompute", "stats", "incr", "prune", "export", "import", "keygen"}
	for _, name := range want {
		cmd, _, err := RootCmd.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}
}

func TestIdleThresholdFallsBackToConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Precompute.IdleThreshold = 90 * time.Second

	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().Duration("idle", 0, "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd
	}

	assert.Equal(t, 90*time.Second, idleThreshold(newCmd(), cfg))
	assert.Equal(t, 2*time.Second, idleThreshold(newCmd("--idle", "2s"), cfg))
	assert.Equal(t, time.Nanosecond, idleThreshold(newCmd("--idle", "0s"), cfg))
}

func TestKeygenPrintsUsableKey(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	formatFlag = "json"

	runKeygen(cmd, nil)

	var out map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	key, err := processor.ParseKey(out["key"])
	require.NoError(t, err)
	assert.Len(t, key, processor.KeySize)
}
