package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lead@yandex.ru", "le***@yandex.ru"},
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskEmail(tt.in))
	}
}

func TestLogMasksContactFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("queued outreach", "to", "lead@yandex.ru", "status", "scheduled")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "le***@yandex.ru", entry["to"])
	assert.Equal(t, "scheduled", entry["status"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLogMasksEmbeddedAddresses(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Warn("smtp rejected", "error", "550 mailbox lead@yandex.ru unavailable")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "550 mailbox le***@yandex.ru unavailable", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(WARN)
	defer SetLevel(INFO)

	Info("should be dropped")
	assert.Zero(t, buf.Len())

	Error("kept")
	assert.NotZero(t, buf.Len())
}
