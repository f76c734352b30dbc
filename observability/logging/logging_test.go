package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeysAndMasksSecrets(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("settlerd", "test", WithWriter(&buf), WithLevel("debug"))
	logger.Debug("burn signed",
		slog.String("tx", "0xabc"),
		slog.String("private_key", "deadbeef"),
		slog.String("jwt_secret", ""))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "burn signed", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "settlerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "0xabc", line["tx"])
	require.Equal(t, RedactedValue, line["private_key"])
	require.Equal(t, "", line["jwt_secret"])
}

func TestWithLevelFilters(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("settler", "", WithWriter(&buf), WithLevel("warn"))
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestWithFileRotates(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "settler.log")
	var cfg options
	WithFile(path, 0, 0)(&cfg)
	require.NotNil(t, cfg.file)
	require.Equal(t, path, cfg.file.Filename)
	require.Equal(t, 20, cfg.file.MaxSize)
	require.NoError(t, cfg.file.Close())
}

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"private_key", "Passphrase", "jwt_secret", "Authorization"} {
		require.True(t, IsSensitive(key), key)
	}
	for _, key := range []string{"tx", "recipient", "hook_data", "amount"} {
		require.False(t, IsSensitive(key), key)
	}
	require.Equal(t, "", MaskValue(" "))
	require.Equal(t, RedactedValue, MaskField("k", "v").Value.String())
}
