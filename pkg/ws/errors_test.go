package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    Classification
	}{
		{"SSL handshake failed", Classification{KindSSLPinning, CodeSSLPinningFailed}},
		{"certificate pinning mismatch", Classification{KindSSLPinning, CodeSSLPinningFailed}},
		{"x509: Certificate signed by unknown authority", Classification{KindSSLPinning, CodeSSLPinningFailed}},
		{"Network unreachable", Classification{KindNetwork, CodeConnectionFailed}},
		{"i/o timeout", Classification{KindNetwork, CodeConnectionFailed}},
		{"Invalid URL: missing host", Classification{KindValidation, CodeInvalidURL}},
		{"websocket with this id already exists", Classification{KindValidation, CodeWebSocketExists}},
		{"something odd", Classification{KindWebSocket, CodeWebSocketError}},
		{"", Classification{KindWebSocket, CodeWebSocketError}},
		// первое совпавшее правило побеждает
		{"network error during ssl handshake", Classification{KindSSLPinning, CodeSSLPinningFailed}},
		{"timeout while validating invalid url", Classification{KindNetwork, CodeConnectionFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message))
		})
	}
}

func TestClassify_CodesInRange(t *testing.T) {
	for _, msg := range []string{"ssl", "network", "invalid url", "already exists", "boom"} {
		c := Classify(msg)
		assert.GreaterOrEqual(t, int(c.Code), 1000, msg)
		assert.NotEmpty(t, c.Kind, msg)
	}
}

func TestClassifyFact(t *testing.T) {
	tests := []struct {
		name    string
		message string
		rawCode string
		want    Classification
	}{
		{"message wins", "SSL error", "send_failed", Classification{KindSSLPinning, CodeSSLPinningFailed}},
		{"raw code refines fallback", "broken pipe", "send_failed", Classification{KindConnection, CodeSendError}},
		{"connection failed", "refused", "CONNECTION_FAILED", Classification{KindConnection, CodeConnectionFailed}},
		{"unknown raw code", "refused", "weird", fallback},
		{"no raw code", "refused", "", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFact(tt.message, tt.rawCode))
		})
	}
}
