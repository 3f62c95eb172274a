// Package ws предоставляет WebSocket соединение с пиннингом сертификата и
// событийным API поверх внешнего транспорта:
//   - Машина состояний CONNECTING / OPEN / CLOSING / CLOSED без повторного открытия
//   - Сведение фактов от транспорта (push и опрос) в один упорядоченный поток
//     без дублей
//   - Классификация ошибок по тексту и коду транспорта
//   - Диагностика пиннинга для ошибок ssl_pinning
//
// # Подключение
//
//	cfg := ws.DefaultConfig("wss://api.example.com/ws")
//	cfg.Pinning = &pinning.Config{
//	    Hostname:        "api.example.com",
//	    PublicKeyHashes: []string{"AAAA...=", "BBBB...="},
//	}
//
//	s := ws.New(cfg, transport.New(transport.DefaultConfig()))
//	defer s.Cleanup()
//
//	s.OnOpen(func(ev ws.OpenEvent) {
//	    _ = s.Send("hello")
//	})
//	s.OnMessage(func(ev ws.MessageEvent) { ... })
//	s.OnError(func(ev ws.ErrorEvent) {
//	    if ev.Kind == ws.KindSSLPinning && ev.Pinning != nil {
//	        log.Println("found", ev.Pinning.FoundHash)
//	    }
//	})
//	s.OnClose(func(ev ws.CloseEvent) { ... })
//
//	s.Connect(ctx)
//
// Connect, Close и Cleanup ничего не возвращают: все ошибки приходят
// событием error. Send возвращает ErrInvalidState вне состояния OPEN.
//
// # Доставка фактов
//
// Транспорт сообщает факты (open, message, error, close) с идентификатором
// соединения. Если транспорт реализует Subscriber, факты принимаются сразу
// и дополнительно опрашиваются через PollEvents; иначе только опрос:
//  1. 100ms в состоянии OPEN
//  2. 500ms в остальных состояниях
//  3. 1000ms после ошибки опроса
//
// Пронумерованные факты (Seq > 0) применяются ровно один раз независимо от
// того, каким путём пришли. Транспорты с одним общим каналом событий могут
// передавать факты через Dispatch.
//
// # Ошибка в состоянии OPEN
//
// По умолчанию (ErrorPolicyWaitForClose) ошибка только доставляется, а
// закрытие ждёт факта close. ErrorPolicyForceClose сразу переводит
// соединение в CLOSED.
//
// # Конфигурация
//
// Config можно прочитать из YAML:
//
//	url: wss://api.example.com/ws
//	protocols: [chat]
//	error_policy: wait_for_close
//	pinning:
//	  hostname: api.example.com
//	  public_key_hashes: ["AAAA...="]
//	  include_subdomains: false
//	options:
//	  connection_timeout: 10s
//	pacing:
//	  open: 100ms
package ws
