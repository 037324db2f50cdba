package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("challenge-service", "debug", &buf)
	log.WithField("challenge_id", "c1").Debug("accepted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "challenge-service", entry["service"])
	assert.Equal(t, "c1", entry["challenge_id"])
	assert.Equal(t, "accepted", entry["message"])
	assert.Equal(t, "debug", entry["level"])
}

func TestParseLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, logrus.ErrorLevel, parseLevel(""))
	assert.Equal(t, logrus.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("verbose"))
}
