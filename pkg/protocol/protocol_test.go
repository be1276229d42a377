package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_UnmarshalRoundTrip(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":"1","method":"chat.send","params":{"channelId":"c1","message":"hi"}}`
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "chat.send", req.Method)

	var params map[string]string
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "c1", params["channelId"])
}

func TestNewResponse_MarshalsResultWithoutError(t *testing.T) {
	resp := NewResponse(json.RawMessage(`"1"`), map[string]any{"ok": true})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["error"])
	assert.NotNil(t, decoded["result"])
}

func TestNewErrorResponse_CarriesAppCodeInData(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`"1"`), CodeServerError, "boom", "VALIDATION_ERROR", map[string]string{"field": "x"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeServerError, resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Data.Code)
}

func TestNewErrorResponse_EmptyAppCodeOmitsData(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`"1"`), CodeParseError, "parse error", "", nil)
	assert.Nil(t, resp.Error.Data)
}

func TestNewNotification_HasNoID(t *testing.T) {
	note := NewNotification(EventChatResponse, map[string]string{"taskId": "t1"})
	data, err := json.Marshal(note)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, hasID := decoded["id"]
	assert.False(t, hasID)
	assert.Equal(t, EventChatResponse, decoded["method"])
}
