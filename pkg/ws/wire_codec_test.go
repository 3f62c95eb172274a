package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWireEvent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want WireEvent
	}{
		{
			"open",
			`{"id":"ws_1","seq":1,"type":"open","protocol":"chat"}`,
			WireEvent{ID: "ws_1", Seq: 1, Fact: OpenFact{Protocol: "chat"}},
		},
		{
			"message",
			`{"id":"ws_1","type":"message","data":"hello"}`,
			WireEvent{ID: "ws_1", Fact: MessageFact{Data: "hello"}},
		},
		{
			"error with string code",
			`{"id":"ws_1","type":"error","error":"boom","code":"connection_failed"}`,
			WireEvent{ID: "ws_1", Fact: ErrorFact{Message: "boom", RawCode: "connection_failed"}},
		},
		{
			"error without message",
			`{"id":"ws_1","type":"error"}`,
			WireEvent{ID: "ws_1", Fact: ErrorFact{Message: "unknown websocket error"}},
		},
		{
			"close defaults",
			`{"id":"ws_1","type":"close"}`,
			WireEvent{ID: "ws_1", Fact: CloseFact{Code: 1000, WasClean: true}},
		},
		{
			"abnormal close",
			`{"id":"ws_1","type":"close","code":1006,"reason":"gone"}`,
			WireEvent{ID: "ws_1", Fact: CloseFact{Code: 1006, Reason: "gone"}},
		},
		{
			"explicit wasClean",
			`{"id":"ws_1","type":"close","code":4000,"wasClean":true}`,
			WireEvent{ID: "ws_1", Fact: CloseFact{Code: 4000, WasClean: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeWireEvent([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeWireEvent_Invalid(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"open"}`,
		`{"id":"ws_1","type":"ping"}`,
		`{"id":"ws_1","type":"close","code":"abc"}`,
	} {
		_, err := DecodeWireEvent([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidWireEvent, in)
	}
}

func TestEncodeWireEvent(t *testing.T) {
	data, err := EncodeWireEvent(WireEvent{ID: "ws_1", Seq: 3, Fact: CloseFact{Code: 1001, Reason: "bye"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ws_1","seq":3,"type":"close","code":1001,"reason":"bye","wasClean":false}`, string(data))

	data, err = EncodeWireEvent(WireEvent{ID: "ws_1", Fact: ErrorFact{Message: "x", RawCode: "send_failed"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ws_1","type":"error","error":"x","code":"send_failed"}`, string(data))

	_, err = EncodeWireEvent(WireEvent{ID: "ws_1"})
	assert.ErrorIs(t, err, ErrInvalidWireEvent)
}

func TestWireEvent_JSONBatch(t *testing.T) {
	var batch []WireEvent

	err := json.Unmarshal([]byte(`[
		{"id":"ws_1","seq":1,"type":"open"},
		{"id":"ws_1","seq":2,"type":"message","data":"a"}
	]`), &batch)
	require.NoError(t, err)

	require.Len(t, batch, 2)
	assert.Equal(t, OpenFact{}, batch[0].Fact)
	assert.Equal(t, MessageFact{Data: "a"}, batch[1].Fact)
}
