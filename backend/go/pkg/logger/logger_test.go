package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"Thalos_Prime/backend/go/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestWithErrorDoesNotLeakIntoBase(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithOutput("test", &buf)

	base.WithError(models.ErrorInfo{Message: "boom"}).Error("failed")
	base.Info("clean")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "error")
	assert.NotContains(t, lines[1], "error")
	assert.Equal(t, "test", lines[1]["service_name"])
}

func TestWithPayloadAndTrace(t *testing.T) {
	var buf bytes.Buffer
	NewWithOutput("test", &buf).
		WithTrace("task-1").
		WithPayload(map[string]interface{}{"status": "running"}).
		Debug("transition")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "task-1", lines[0]["trace_id"])
	payload, ok := lines[0]["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "running", payload["status"])
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("not-a-level"))
}
