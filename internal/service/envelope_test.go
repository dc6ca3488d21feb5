package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_SuccessWireShape(t *testing.T) {
	// Given: a success envelope with a debug block
	env := OK(map[string]any{"total": 3})
	env.Debug = &Debug{TookMs: 12, Backend: "elasticsearch", Index: "products_current"}

	// When: marshalling
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// Then: error fields are absent and the casing matches the contract
	body := string(raw)
	assert.Contains(t, body, `"success":true`)
	assert.Contains(t, body, `"total":3`)
	assert.Contains(t, body, `"took_ms":12`)
	assert.NotContains(t, body, `"error"`)
	assert.NotContains(t, body, `"errorCode"`)
}

func TestEnvelope_FailureWireShape(t *testing.T) {
	// Given: a failure envelope without data
	env := Fail(CodeServiceUnavailable, "search is temporarily unavailable")

	// When: marshalling
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// Then: errorCode keeps its camelCase key and empty fields vanish
	body := string(raw)
	assert.Contains(t, body, `"success":false`)
	assert.Contains(t, body, `"errorCode":"SERVICE_UNAVAILABLE"`)
	assert.Contains(t, body, `"error":"search is temporarily unavailable"`)
	assert.NotContains(t, body, `"data"`)
	assert.NotContains(t, body, `"debug"`)
}

func TestEnvelope_FailureCanCarryDegradedData(t *testing.T) {
	// Given: a failure envelope with a well-formed empty payload
	env := Fail(CodeServiceUnavailable, "search is temporarily unavailable")
	env.Data = SearchData{Products: []map[string]any{}, Page: 1, Limit: 20}

	// When: marshalling
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// Then: clients get both the error and an empty product list
	body := string(raw)
	assert.Contains(t, body, `"success":false`)
	assert.Contains(t, body, `"products":[]`)
}
