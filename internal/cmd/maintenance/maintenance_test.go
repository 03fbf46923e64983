package maintenance

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func parse(t *testing.T, env map[string]string, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if env == nil {
		env = map[string]string{}
	}
	return ParseConfig(fs, args, env)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parse(t, nil, "-cmd", "check")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "keydrop.db", cfg.DBDSN)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, "-", cfg.ItemsFile)
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	env := map[string]string{"DB_DRIVER": "mysql", "DB_DSN": "root@tcp(db:3306)/keydrop", "REDIS_ADDR": " redis:6379 "}
	cfg, err := parse(t, env, "-cmd", "sync-cache", "-db-dsn", "override")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "override", cfg.DBDSN)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestParseConfigEnvDefaultsApplyToEmptyEnvironment(t *testing.T) {
	cfg, err := parse(t, map[string]string{"CURRENCY": "eur", "ENCRYPTION_KEY": testKey}, "-cmd", "check")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "eur", cfg.Currency)
	assert.Equal(t, testKey, cfg.EncryptionKey)
	assert.Empty(t, cfg.RedisAddr)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing command", nil, "-cmd is required"},
		{"unknown command", []string{"-cmd", "drop-all"}, "unknown command"},
		{"stats without product", []string{"-cmd", "stats"}, "-product is required"},
		{"add-product without price", []string{"-cmd", "add-product", "-name", "Key"}, "-price are required"},
		{"sync-cache without redis", []string{"-cmd", "sync-cache"}, "REDIS_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunInventoryWorkflow(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "keydrop.db")
	env := map[string]string{"DB_DSN": dsn, "ENCRYPTION_KEY": testKey}

	run := func(input string, args ...string) (string, string, error) {
		cfg, err := parse(t, env, args...)
		require.NoError(t, err)
		cfg.Input = strings.NewReader(input)
		var out, errOut bytes.Buffer
		err = Run(ctx, cfg, &out, &errOut)
		return out.String(), errOut.String(), err
	}

	out, _, err := run("", "-cmd", "add-product", "-product", "p1", "-name", "Game key", "-price", "10.00", "-type", "key")
	require.NoError(t, err)
	assert.Contains(t, out, "created product p1")

	out, _, err = run("KEY-1\n\n  KEY-2  \nKEY-3\n", "-cmd", "add-items", "-product", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "added 3 items, 3 available")

	out, _, err = run("", "-cmd", "stats", "-product", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "available: 3")

	out, _, err = run("", "-cmd", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "unreferenced_items")

	out, errOut, err := run("", "-cmd", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, `"released": 0`)
	assert.Empty(t, errOut)

	_, _, err = run("", "-cmd", "stats", "-product", "missing")
	assert.Error(t, err)
}

func TestRunAddItemsRequiresKey(t *testing.T) {
	cfg, err := parse(t, map[string]string{"DB_DSN": filepath.Join(t.TempDir(), "keydrop.db")},
		"-cmd", "add-items", "-product", "p1")
	require.NoError(t, err)
	cfg.Input = strings.NewReader("KEY-1\n")

	err = Run(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}
