package ws

import "github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"

// Fact - факт жизненного цикла, сообщённый транспортом. Закрытое объединение:
// OpenFact, MessageFact, ErrorFact, CloseFact.
type Fact interface {
	category() Category
}

type OpenFact struct {
	Protocol string
}

type MessageFact struct {
	Data string
}

type ErrorFact struct {
	Message string
	RawCode string
}

type CloseFact struct {
	Code     int
	Reason   string
	WasClean bool
}

func (OpenFact) category() Category    { return CategoryOpen }
func (MessageFact) category() Category { return CategoryMessage }
func (ErrorFact) category() Category   { return CategoryError }
func (CloseFact) category() Category   { return CategoryClose }

// WireEvent - факт с идентификатором соединения, от которого он пришёл.
// Seq - порядковый номер, который транспорт присваивает в рамках соединения
// (0 - без номера, дедупликация не выполняется).
type WireEvent struct {
	ID   string
	Seq  uint64
	Fact Fact
}

type Category string

const (
	CategoryOpen    Category = "open"
	CategoryMessage Category = "message"
	CategoryError   Category = "error"
	CategoryClose   Category = "close"
)

func (c Category) valid() bool {
	switch c {
	case CategoryOpen, CategoryMessage, CategoryError, CategoryClose:
		return true
	default:
		return false
	}
}

// Event - событие, которое получают подписчики.
type Event interface {
	Category() Category
}

type OpenEvent struct {
	Protocol string
}

type MessageEvent struct {
	Data string
}

// PinningInfo - диагностика пиннинга для ошибок ssl_pinning.
type PinningInfo struct {
	Hostname       string
	ExpectedHashes []string
	FoundHash      string
}

type ErrorEvent struct {
	Err     error
	Message string
	Code    Code
	Kind    ErrorKind
	Pinning *PinningInfo
}

type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

func (OpenEvent) Category() Category    { return CategoryOpen }
func (MessageEvent) Category() Category { return CategoryMessage }
func (ErrorEvent) Category() Category   { return CategoryError }
func (CloseEvent) Category() Category   { return CategoryClose }

func (e ErrorEvent) Error() string {
	return e.Message
}

func (e ErrorEvent) Unwrap() error {
	return e.Err
}

func newErrorEvent(err error, c Classification) ErrorEvent {
	return ErrorEvent{
		Err:     err,
		Message: err.Error(),
		Code:    c.Code,
		Kind:    c.Kind,
	}
}

func pinningInfo(res *pinning.Result) *PinningInfo {
	if res == nil {
		return nil
	}

	return &PinningInfo{
		Hostname:       res.Hostname,
		ExpectedHashes: res.ExpectedHashes,
		FoundHash:      res.FoundHash,
	}
}
