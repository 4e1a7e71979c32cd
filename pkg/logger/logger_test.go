package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &fields))
	return fields
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pharmacy-service", "production", &buf)

	log.WithRequestID("req-1").
		WithMedication("med-1").
		WithIntent("intent-1").
		WithError(errors.New("lot gone")).
		Warn().Msg("dispense step failed")

	fields := lastLine(t, &buf)
	assert.Equal(t, "pharmacy-service", fields["service"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "med-1", fields["medication_id"])
	assert.Equal(t, "intent-1", fields["intent_id"])
	assert.Equal(t, "lot gone", fields["error"])
	assert.Equal(t, "warn", fields["level"])
}

func TestLogger_DerivedLoggersDoNotLeak(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("pharmacy-service", "production", &buf)

	log.WithMedication("med-1").Info().Msg("first")
	log.WithComponent("ledger").Info().Msg("second")

	fields := lastLine(t, &buf)
	assert.Equal(t, "ledger", fields["component"])
	assert.NotContains(t, fields, "medication_id")
}
