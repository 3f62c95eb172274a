package ws

import (
	"context"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

// Transport - граница с платформенной реализацией WebSocket и TLS.
// Все методы могут блокироваться на внешнем вводе-выводе.
type Transport interface {
	// CreateConnection завершается ошибкой при неверном URL, повторном id,
	// сетевой ошибке или провале пиннинга. Факты о соединении транспорт
	// сообщает асинхронно через PollEvents (и Subscribe, если поддерживается).
	CreateConnection(
		ctx context.Context,
		id, url string,
		protocols []string,
		pin *pinning.Config,
		opts TransportOptions,
	) error
	CloseConnection(ctx context.Context, id string, code int, reason string) error
	SendData(ctx context.Context, id, text string) error
	GetReadyState(ctx context.Context, id string) (int, error)
	// GetValidationResult возвращает nil, если проверка не выполнялась.
	GetValidationResult(ctx context.Context, id string) (*pinning.Result, error)
	// PollEvents отдаёт и забирает накопленные факты в порядке поступления.
	PollEvents(ctx context.Context, id string) ([]WireEvent, error)
	// CleanupConnection идемпотентна.
	CleanupConnection(ctx context.Context, id string) error
}

// Subscriber - необязательная push-доставка фактов. Транспорт вызывает fn
// для тех же фактов, что отдаёт через PollEvents. unsubscribe вызывается
// без блокировок Socket и может дожидаться выполняющихся fn.
type Subscriber interface {
	Subscribe(id string, fn func(WireEvent)) (unsubscribe func())
}
