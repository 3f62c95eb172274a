package transport_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/wstest"
)

type socketEvents struct {
	ch chan ws.Event
}

func watch(s *ws.Socket) *socketEvents {
	e := &socketEvents{ch: make(chan ws.Event, 64)}

	s.OnOpen(func(ev ws.OpenEvent) { e.ch <- ev })
	s.OnMessage(func(ev ws.MessageEvent) { e.ch <- ev })
	s.OnError(func(ev ws.ErrorEvent) { e.ch <- ev })
	s.OnClose(func(ev ws.CloseEvent) { e.ch <- ev })

	return e
}

func (e *socketEvents) next(t *testing.T) ws.Event {
	t.Helper()

	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(waitTimeout):
		require.FailNow(t, "no event received")
		return nil
	}
}

func newSocket(t *testing.T, cfg ws.Config, roots *x509.CertPool) (*ws.Socket, *socketEvents) {
	t.Helper()

	cfg.Pacing = ws.Pacing{Open: 10 * time.Millisecond, Idle: 10 * time.Millisecond, Failure: 10 * time.Millisecond}

	s := ws.New(cfg, newTransport(roots))
	t.Cleanup(s.Cleanup)

	return s, watch(s)
}

func pinFor(cert tls.Certificate, hashes ...string) *pinning.Config {
	if len(hashes) == 0 {
		hashes = []string{wstest.Pin(cert)}
	}

	return &pinning.Config{Hostname: "127.0.0.1", PublicKeyHashes: hashes}
}

func TestSocket_Echo(t *testing.T) {
	url := wstest.Start(t, wstest.NewServer(wstest.Config{Subprotocols: []string{"v2", "chat"}}))

	cfg := ws.DefaultConfig(url)
	cfg.Protocols = []string{"chat"}

	s, events := newSocket(t, cfg, nil)

	s.Connect(context.Background())

	require.Equal(t, ws.OpenEvent{Protocol: "chat"}, events.next(t))
	assert.Equal(t, ws.StateOpen, s.ReadyState())
	assert.Equal(t, "chat", s.Protocol())

	state, err := s.RemoteReadyState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ws.StateOpen, state)

	require.NoError(t, s.Send("ping"))
	assert.Equal(t, ws.MessageEvent{Data: "ping"}, events.next(t))

	s.Close(1000, "done")

	// ответный close фрейм сервера приходит без причины
	closeEv, ok := events.next(t).(ws.CloseEvent)
	require.True(t, ok)
	assert.Equal(t, 1000, closeEv.Code)
	assert.True(t, closeEv.WasClean)
	assert.Equal(t, ws.StateClosed, s.ReadyState())
}

func TestSocket_ServerDrop(t *testing.T) {
	url := wstest.Start(t, wstest.NewServer(wstest.DefaultConfig()))
	s, events := newSocket(t, ws.DefaultConfig(url), nil)

	s.Connect(context.Background())
	require.IsType(t, ws.OpenEvent{}, events.next(t))

	require.NoError(t, s.Send(wstest.CommandDrop))

	errEv, ok := events.next(t).(ws.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, ws.KindConnection, errEv.Kind)
	assert.Equal(t, ws.CodeConnectionFailed, errEv.Code)

	closeEv, ok := events.next(t).(ws.CloseEvent)
	require.True(t, ok)
	assert.Equal(t, 1006, closeEv.Code)
	assert.False(t, closeEv.WasClean)
	assert.Equal(t, ws.StateClosed, s.ReadyState())
}

func TestSocket_ServerInitiatedClose(t *testing.T) {
	url := wstest.Start(t, wstest.NewServer(wstest.DefaultConfig()))
	s, events := newSocket(t, ws.DefaultConfig(url), nil)

	s.Connect(context.Background())
	require.IsType(t, ws.OpenEvent{}, events.next(t))

	require.NoError(t, s.Send(wstest.CommandClose+"4002:maintenance"))

	assert.Equal(t, ws.CloseEvent{Code: 4002, Reason: "maintenance", WasClean: true}, events.next(t))
	assert.Equal(t, ws.StateClosed, s.ReadyState())
}

func TestSocket_ConnectionRefused(t *testing.T) {
	s, events := newSocket(t, ws.DefaultConfig("ws://127.0.0.1:1"), nil)

	s.Connect(context.Background())

	errEv, ok := events.next(t).(ws.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, ws.KindConnection, errEv.Kind)
	assert.Equal(t, ws.CodeConnectionFailed, errEv.Code)

	closeEv, ok := events.next(t).(ws.CloseEvent)
	require.True(t, ok)
	assert.Equal(t, 1006, closeEv.Code)
	assert.Equal(t, ws.StateClosed, s.ReadyState())
}

func TestSocket_PinnedTLS(t *testing.T) {
	pki := wstest.NewPKI(t)
	cert := pki.Issue(t)
	url := wstest.StartTLS(t, wstest.NewServer(wstest.DefaultConfig()), cert)

	t.Run("leaf pin", func(t *testing.T) {
		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert)

		s, events := newSocket(t, cfg, pki.RootCAs)
		s.Connect(context.Background())

		require.IsType(t, ws.OpenEvent{}, events.next(t))

		res := s.ValidationResult(context.Background())
		require.NotNil(t, res)
		assert.True(t, res.Success)
		assert.Equal(t, "127.0.0.1", res.Hostname)
		assert.Equal(t, wstest.Pin(cert), res.FoundHash)

		require.NoError(t, s.Send("secure"))
		assert.Equal(t, ws.MessageEvent{Data: "secure"}, events.next(t))
	})

	t.Run("backup ca pin", func(t *testing.T) {
		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", pinning.SPKIHash(pki.CACert))

		s, events := newSocket(t, cfg, pki.RootCAs)
		s.Connect(context.Background())

		require.IsType(t, ws.OpenEvent{}, events.next(t))
	})

	t.Run("wrong pin", func(t *testing.T) {
		wrong := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert, wrong)

		s, events := newSocket(t, cfg, pki.RootCAs)
		s.Connect(context.Background())

		errEv, ok := events.next(t).(ws.ErrorEvent)
		require.True(t, ok, "expected error event")
		assert.Equal(t, ws.KindSSLPinning, errEv.Kind)
		assert.Equal(t, ws.CodeSSLPinningFailed, errEv.Code)

		require.NotNil(t, errEv.Pinning)
		assert.Equal(t, "127.0.0.1", errEv.Pinning.Hostname)
		assert.Equal(t, wstest.Pin(cert), errEv.Pinning.FoundHash)
		assert.Equal(t, []string{wrong}, errEv.Pinning.ExpectedHashes)

		closeEv, ok := events.next(t).(ws.CloseEvent)
		require.True(t, ok)
		assert.Equal(t, 1006, closeEv.Code)
		assert.False(t, closeEv.WasClean)
		assert.Equal(t, ws.StateClosed, s.ReadyState())

		res := s.ValidationResult(context.Background())
		require.NotNil(t, res)
		assert.False(t, res.Success)
	})

	t.Run("untrusted ca", func(t *testing.T) {
		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert)

		s, events := newSocket(t, cfg, x509.NewCertPool())
		s.Connect(context.Background())

		errEv, ok := events.next(t).(ws.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, ws.KindSSLPinning, errEv.Kind)
	})
}

func TestSocket_SelfSigned(t *testing.T) {
	cert := wstest.SelfSigned(t)
	url := wstest.StartTLS(t, wstest.NewServer(wstest.DefaultConfig()), cert)

	t.Run("rejected by default", func(t *testing.T) {
		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert)

		s, events := newSocket(t, cfg, x509.NewCertPool())
		s.Connect(context.Background())

		errEv, ok := events.next(t).(ws.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, ws.KindSSLPinning, errEv.Kind)
	})

	t.Run("allowed with pin", func(t *testing.T) {
		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(cert)
		cfg.Options.AllowSelfSignedCerts = true

		s, events := newSocket(t, cfg, nil)
		s.Connect(context.Background())

		require.IsType(t, ws.OpenEvent{}, events.next(t))
	})

	t.Run("pin still enforced", func(t *testing.T) {
		other := wstest.SelfSigned(t)

		cfg := ws.DefaultConfig(url)
		cfg.Pinning = pinFor(other)
		cfg.Options.AllowSelfSignedCerts = true

		s, events := newSocket(t, cfg, nil)
		s.Connect(context.Background())

		errEv, ok := events.next(t).(ws.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, ws.KindSSLPinning, errEv.Kind)
		require.NotNil(t, errEv.Pinning)
		assert.Equal(t, wstest.Pin(cert), errEv.Pinning.FoundHash)
	})
}

func TestSocket_CleanupReleasesTransport(t *testing.T) {
	url := wstest.Start(t, wstest.NewServer(wstest.DefaultConfig()))

	tr := newTransport(nil)
	s := ws.New(ws.DefaultConfig(url), tr)
	events := watch(s)

	s.Connect(context.Background())
	require.IsType(t, ws.OpenEvent{}, events.next(t))

	s.Cleanup()

	require.Eventually(t, func() bool {
		_, err := tr.GetReadyState(context.Background(), s.ID())
		return err != nil
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, ws.StateClosed, s.ReadyState())
}
