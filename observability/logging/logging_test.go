package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, closer := Setup("escrowd", "test", WithWriter(&buf))
	t.Cleanup(func() { _ = closer.Close() })

	logger.Info("escrow created", "account", "acc-1", MaskField("payer_document", "12345678900"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "escrow created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "escrowd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "acc-1", line["account"])
	require.Equal(t, RedactedValue, line["payer_document"])
	require.Contains(t, line, "timestamp")
}

func TestSetupHonoursLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, _ := Setup("escrowd", "", WithWriter(&buf), WithLevel(slog.LevelWarn))
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.NotContains(t, buf.String(), `"env"`)
}

func TestSetupWritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "escrowd.log")
	var buf bytes.Buffer
	logger, closer := Setup("escrowd", "test", WithWriter(&buf), WithFile(FileOptions{Path: path, MaxSizeMB: 1}))
	logger.Info("escrow frozen")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "escrow frozen"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("payer_email", "a@b.c").Value.String())
	require.Equal(t, "", MaskField("payer_email", "").Value.String())
	require.Equal(t, "insufficient funds", MaskField("reason", "insufficient funds").Value.String())
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.Equal(t, "acc-1", MaskField(" Account ", "acc-1").Value.String())
	require.Equal(t, "  ", MaskValue("  "))
}
