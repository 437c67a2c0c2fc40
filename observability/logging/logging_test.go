package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "jobd", "test", slog.LevelInfo)
	logger.Info("started", "component", "rpc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "started", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "jobd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "jobd", "", slog.LevelWarn)
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobd.log")
	logger, closer := Setup("jobd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("to file")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("jwt_secret", "hunter2").Value.String())
	require.Equal(t, "42", MaskField("job", "42").Value.String())
	require.Equal(t, "", MaskField("secret", "").Value.String())
	require.Equal(t, "Bearer "+RedactedValue, MaskAuthorization("Bearer abc.def"))
	require.Equal(t, RedactedValue, MaskAuthorization("abc"))
	require.Equal(t, ParseLevel("debug"), slog.LevelDebug)
	require.Equal(t, ParseLevel("bogus"), slog.LevelInfo)
}
