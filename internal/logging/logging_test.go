package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterAddsServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "groupbuy-api", "test")

	log.Info("dropped")
	log.Warn("kept", "team_order_id", "t-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "groupbuy-api", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "t-1", line["team_order_id"])
}
