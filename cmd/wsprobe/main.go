// wsprobe подключается к WebSocket серверу с пиннингом сертификата,
// печатает события JSON строками и результат проверки пиннинга.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/transport"
)

var errNotOpened = errors.New("connection was not opened")

type options struct {
	configPath string
	url        string
	pins       string
	message    string
	wait       time.Duration
	printPins  bool
	insecure   bool
}

func main() {
	var (
		opts    options
		verbose bool
	)

	flag.StringVar(&opts.configPath, "config", "", "path to YAML config")
	flag.StringVar(&opts.url, "url", "", "websocket url, overrides config")
	flag.StringVar(&opts.pins, "pin", "", "comma separated SPKI hashes, overrides config")
	flag.StringVar(&opts.message, "message", "", "message to send after open")
	flag.DurationVar(&opts.wait, "wait", 5*time.Second, "how long to stay connected")
	flag.BoolVar(&opts.printPins, "print-pins", false, "print SPKI hashes of the server chain and exit")
	flag.BoolVar(&opts.insecure, "insecure", false, "skip CA verification, pins are still checked")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if opts.printPins {
		err = printChainPins(ctx, opts.url, os.Stdout)
	} else {
		err = run(ctx, opts, logger, os.Stdout)
	}

	if err != nil {
		logger.Error("wsprobe failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(opts options, logger *slog.Logger) (ws.Config, error) {
	cfg := ws.DefaultConfig(opts.url)

	if opts.configPath != "" {
		loaded, err := ws.LoadConfig(opts.configPath)
		if err != nil {
			return ws.Config{}, err
		}

		cfg = loaded

		if opts.url != "" {
			cfg.URL = opts.url
		}
	}

	cfg.Logger = logger

	if opts.insecure {
		cfg.Options.AllowSelfSignedCerts = true
	}

	switch {
	case opts.pins != "":
		host, err := ws.ExtractHostname(cfg.URL)
		if err != nil {
			return ws.Config{}, err
		}

		pin := &pinning.Config{Hostname: host}
		for h := range strings.SplitSeq(opts.pins, ",") {
			if h = strings.TrimSpace(h); h != "" {
				pin.PublicKeyHashes = append(pin.PublicKeyHashes, h)
			}
		}

		cfg.Pinning = pin
	case cfg.Pinning == nil && os.Getenv("PIN_HOSTNAME") != "":
		pin, err := pinning.FromEnv()
		if err != nil {
			return ws.Config{}, err
		}

		cfg.Pinning = pin
	}

	return cfg, nil
}

func run(ctx context.Context, opts options, logger *slog.Logger, out io.Writer) error {
	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return err
	}

	tcfg := transport.DefaultConfig()
	tcfg.Logger = logger

	s := ws.New(cfg, transport.New(tcfg))
	defer s.Cleanup()

	var opened atomic.Bool

	closed := make(chan struct{})
	finish := sync.OnceFunc(func() { close(closed) })
	report := func(f ws.Fact) {
		writeEvent(out, s.ID(), f, logger)
	}

	s.OnOpen(func(ev ws.OpenEvent) {
		opened.Store(true)
		report(ws.OpenFact(ev))

		if opts.message == "" {
			return
		}

		if err := s.Send(opts.message); err != nil {
			logger.Warn("failed to send message", "error", err)
		}
	})
	s.OnMessage(func(ev ws.MessageEvent) {
		report(ws.MessageFact(ev))
	})
	s.OnError(func(ev ws.ErrorEvent) {
		report(ws.ErrorFact{Message: ev.Message, RawCode: string(ev.Kind)})

		if ev.Pinning != nil {
			logger.Warn("pinning diagnostics",
				"host", ev.Pinning.Hostname,
				"found", ev.Pinning.FoundHash,
				"expected", ev.Pinning.ExpectedHashes,
			)
		}

		// ошибка до open без последующего close (валидация, CreateConnection)
		if s.ReadyState() == ws.StateClosed {
			finish()
		}
	})
	s.OnClose(func(ev ws.CloseEvent) {
		report(ws.CloseFact(ev))
		finish()
	})

	s.Connect(ctx)

	select {
	case <-closed:
	case <-ctx.Done():
		s.Close(1000, "interrupted")
	case <-time.After(opts.wait):
		s.Close(1000, "probe finished")
	}

	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		logger.Warn("close event was not received")
	}

	if res := s.ValidationResult(context.WithoutCancel(ctx)); res != nil {
		if err := json.NewEncoder(out).Encode(res); err != nil {
			return fmt.Errorf("failed to write validation result: %w", err)
		}
	}

	if !opened.Load() {
		return errNotOpened
	}

	return nil
}

func writeEvent(out io.Writer, id string, f ws.Fact, logger *slog.Logger) {
	data, err := ws.EncodeWireEvent(ws.WireEvent{ID: id, Fact: f})
	if err != nil {
		logger.Error("failed to encode event", "error", err)
		return
	}

	if _, err := fmt.Fprintln(out, string(data)); err != nil {
		logger.Error("failed to write event", "error", err)
	}
}

// printChainPins печатает SPKI хеши всей цепочки сервера, лист первым.
func printChainPins(ctx context.Context, rawURL string, out io.Writer) error {
	u, err := ws.ValidateURL(rawURL)
	if err != nil {
		return err
	}

	port := u.Port()
	if port == "" {
		port = "443"
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         u.Hostname(),
			InsecureSkipVerify: true, //nolint:gosec // только чтение цепочки
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return fmt.Errorf("unexpected connection type %T", conn)
	}

	for i, cert := range tlsConn.ConnectionState().PeerCertificates {
		if _, err := fmt.Fprintf(out, "%d\t%s\t%s\n", i, pinning.SPKIHash(cert), cert.Subject.CommonName); err != nil {
			return err
		}
	}

	return nil
}
