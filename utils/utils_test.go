package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TREMOR_TEST_VALUE", "abc")
	t.Setenv("TREMOR_TEST_EMPTY", "")
	t.Setenv("TREMOR_TEST_INT", "42")
	t.Setenv("TREMOR_TEST_BAD_INT", "forty")
	t.Setenv("TREMOR_TEST_DURATION", "1500ms")

	require.Equal(t, "abc", GetEnv("TREMOR_TEST_VALUE", "x"))
	require.Equal(t, "x", GetEnv("TREMOR_TEST_EMPTY", "x"))
	require.Equal(t, "", GetEnv("TREMOR_TEST_MISSING"))
	require.Equal(t, 42, GetEnvInt("TREMOR_TEST_INT", 7))
	require.Equal(t, 7, GetEnvInt("TREMOR_TEST_BAD_INT", 7))
	require.Equal(t, 1500*time.Millisecond, GetEnvDuration("TREMOR_TEST_DURATION", time.Second))
	require.Equal(t, time.Second, GetEnvDuration("TREMOR_TEST_MISSING", time.Second))
}

func TestCreateFolderIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	require.NoError(t, CreateFolder(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestGenerateUniqueID(t *testing.T) {
	t.Parallel()

	a, b := GenerateUniqueID(), GenerateUniqueID()
	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestReplaceAttrRendersErrorTrace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: replaceAttr}))
	logger.Error("failed", slog.Any("error", xerrors.New(errors.New("boom"))))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	rendered, ok := entry["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "boom", rendered["msg"])
	require.NotEmpty(t, rendered["trace"])

	buf.Reset()
	logger.Error("plain", slog.Any("error", errors.New("flat")))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	rendered = entry["error"].(map[string]any)
	require.Equal(t, "flat", rendered["msg"])
	require.NotContains(t, rendered, "trace")
}
