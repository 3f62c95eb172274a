package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidWireEvent = errors.New("invalid wire event")

// wireRecord - плоская запись события в том виде, в каком её отдают нативные
// транспорты: {"id": "...", "type": "close", "code": 1000, ...}.
// У error поле code строковое ("connection_failed"), у close - числовое.
type wireRecord struct {
	ID       string          `json:"id"`
	Seq      uint64          `json:"seq,omitempty"`
	Type     Category        `json:"type"`
	Protocol string          `json:"protocol,omitempty"`
	Data     string          `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     json.RawMessage `json:"code,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	WasClean *bool           `json:"wasClean,omitempty"`
}

func EncodeWireEvent(ev WireEvent) ([]byte, error) {
	rec := wireRecord{ID: ev.ID, Seq: ev.Seq}

	switch f := ev.Fact.(type) {
	case OpenFact:
		rec.Type = CategoryOpen
		rec.Protocol = f.Protocol
	case MessageFact:
		rec.Type = CategoryMessage
		rec.Data = f.Data
	case ErrorFact:
		rec.Type = CategoryError
		rec.Error = f.Message

		if f.RawCode != "" {
			rec.Code, _ = json.Marshal(f.RawCode)
		}
	case CloseFact:
		rec.Type = CategoryClose
		rec.Code = json.RawMessage(strconv.Itoa(f.Code))
		rec.Reason = f.Reason
		rec.WasClean = &f.WasClean
	default:
		return nil, fmt.Errorf("%w: unknown fact %T", ErrInvalidWireEvent, ev.Fact)
	}

	return json.Marshal(rec)
}

// DecodeWireEvent разбирает запись один раз на границе; дальше по коду
// используется только типизированный Fact.
func DecodeWireEvent(data []byte) (WireEvent, error) {
	var rec wireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return WireEvent{}, fmt.Errorf("%w: %w", ErrInvalidWireEvent, err)
	}

	if rec.ID == "" {
		return WireEvent{}, fmt.Errorf("%w: missing id", ErrInvalidWireEvent)
	}

	ev := WireEvent{ID: rec.ID, Seq: rec.Seq}

	switch rec.Type {
	case CategoryOpen:
		ev.Fact = OpenFact{Protocol: rec.Protocol}
	case CategoryMessage:
		ev.Fact = MessageFact{Data: rec.Data}
	case CategoryError:
		f := ErrorFact{Message: rec.Error}
		if f.Message == "" {
			f.Message = "unknown websocket error"
		}

		if len(rec.Code) > 0 {
			if err := json.Unmarshal(rec.Code, &f.RawCode); err != nil {
				f.RawCode = string(rec.Code)
			}
		}

		ev.Fact = f
	case CategoryClose:
		f := CloseFact{Reason: rec.Reason}

		if len(rec.Code) > 0 {
			if err := json.Unmarshal(rec.Code, &f.Code); err != nil {
				return WireEvent{}, fmt.Errorf("%w: close code: %w", ErrInvalidWireEvent, err)
			}
		}

		if f.Code == 0 {
			f.Code = closeNormal
		}

		if rec.WasClean != nil {
			f.WasClean = *rec.WasClean
		} else {
			f.WasClean = f.Code == closeNormal
		}

		ev.Fact = f
	default:
		return WireEvent{}, fmt.Errorf("%w: unknown type %q", ErrInvalidWireEvent, rec.Type)
	}

	return ev, nil
}

// MarshalJSON позволяет писать события как есть, например в JSON-логи.
func (ev WireEvent) MarshalJSON() ([]byte, error) {
	return EncodeWireEvent(ev)
}

func (ev *WireEvent) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeWireEvent(data)
	if err != nil {
		return err
	}

	*ev = decoded

	return nil
}
