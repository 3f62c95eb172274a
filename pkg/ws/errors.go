package ws

import (
	"errors"
	"strings"
)

var (
	ErrInvalidState       = errors.New("websocket is not open")
	ErrUnsupportedPayload = errors.New("unsupported data type")
	ErrAlreadyConnecting  = errors.New("websocket is already connecting or connected")
	ErrInvalidURL         = errors.New("invalid url")
	ErrPinningRequired    = errors.New("pinning configuration is required for wss:// urls")
	ErrInvalidErrorPolicy = errors.New("invalid error policy")
	ErrNotFound           = errors.New("websocket not found")
)

// ErrorKind - категория ошибки в событии error.
type ErrorKind string

const (
	KindWebSocket  ErrorKind = "websocket"
	KindSSLPinning ErrorKind = "ssl_pinning"
	KindNetwork    ErrorKind = "network"
	KindValidation ErrorKind = "validation"
	KindConnection ErrorKind = "connection"
)

type Code int

const (
	CodeWebSocketError   Code = 1000
	CodeInvalidState     Code = 1001
	CodeSendError        Code = 1002
	CodeSSLPinningFailed Code = 1003
	CodeInvalidURL       Code = 1004
	CodeWebSocketExists  Code = 1005
	CodeConnectionFailed Code = 1006
)

type Classification struct {
	Kind ErrorKind
	Code Code
}

var fallback = Classification{Kind: KindWebSocket, Code: CodeWebSocketError}

var classifierRules = []struct {
	tokens []string
	result Classification
}{
	{[]string{"ssl", "pinning", "certificate"}, Classification{KindSSLPinning, CodeSSLPinningFailed}},
	{[]string{"network", "timeout"}, Classification{KindNetwork, CodeConnectionFailed}},
	{[]string{"invalid url"}, Classification{KindValidation, CodeInvalidURL}},
	{[]string{"already exists"}, Classification{KindValidation, CodeWebSocketExists}},
}

// Classify сопоставляет текст ошибки с таксономией. Правила проверяются по порядку,
// результат есть всегда.
func Classify(message string) Classification {
	msg := strings.ToLower(message)

	for _, rule := range classifierRules {
		for _, token := range rule.tokens {
			if strings.Contains(msg, token) {
				return rule.result
			}
		}
	}

	return fallback
}

// коды, которые транспорт кладёт в ErrorFact.RawCode
var rawCodes = map[string]Classification{
	"connection_failed":       {KindConnection, CodeConnectionFailed},
	"connection_setup_failed": {KindConnection, CodeConnectionFailed},
	"send_failed":             {KindConnection, CodeSendError},
	"invalid_state":           {KindValidation, CodeInvalidState},
	"websocket_exists":        {KindValidation, CodeWebSocketExists},
	"invalid_url":             {KindValidation, CodeInvalidURL},
}

// classifyFact уточняет fallback-классификацию по коду транспорта.
func classifyFact(message, rawCode string) Classification {
	c := Classify(message)
	if c != fallback {
		return c
	}

	if rc, ok := rawCodes[strings.ToLower(rawCode)]; ok {
		return rc
	}

	return c
}
