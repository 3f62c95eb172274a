package pinning

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Recorder хранит последний результат проверки для соединения.
type Recorder struct {
	mu     sync.RWMutex
	result *Result
}

func (r *Recorder) Store(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result = &res
}

// Load возвращает копию результата или nil, если проверка ещё не выполнялась.
func (r *Recorder) Load() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.result == nil {
		return nil
	}

	res := *r.result

	return &res
}

type VerifierConfig struct {
	Pin *Config

	// Host - хост из адреса соединения. Используется, когда ServerName
	// в рукопожатии пуст (подключение по IP).
	Host string

	// AllowSelfSigned отключает проверку цепочки CA (только для разработки).
	// Проверка pin-а при этом выполняется всегда.
	AllowSelfSigned bool

	RootCAs  *x509.CertPool
	Recorder *Recorder
	Logger   *slog.Logger
}

// Verifier проверяет цепочку сертификатов и pin во время TLS рукопожатия.
type Verifier struct {
	cfg    VerifierConfig
	logger *slog.Logger
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.Pin.Validate(); err != nil {
		return nil, err
	}

	if cfg.Recorder == nil {
		cfg.Recorder = &Recorder{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Verifier{cfg: cfg, logger: cfg.Logger}, nil
}

func (v *Verifier) Recorder() *Recorder {
	return v.cfg.Recorder
}

// TLSConfig строит клиентскую конфигурацию. Стандартная проверка отключена,
// потому что VerifyConnection выполняет её сама, а затем сверяет pin.
func (v *Verifier) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // проверка выполняется в VerifyConnection
		VerifyConnection:   v.VerifyConnection,
	}
}

func (v *Verifier) VerifyConnection(cs tls.ConnectionState) error {
	host := cs.ServerName
	if host == "" {
		host = v.cfg.Host
	}

	if len(cs.PeerCertificates) == 0 {
		res := Result{Hostname: host, ExpectedHashes: slices.Clone(v.cfg.Pin.PublicKeyHashes), Error: ErrEmptyChain.Error()}
		v.cfg.Recorder.Store(res)

		return res.Err()
	}

	if !v.cfg.AllowSelfSigned {
		if err := v.verifyChain(host, cs.PeerCertificates); err != nil {
			res := Result{
				Hostname:       host,
				FoundHash:      SPKIHash(cs.PeerCertificates[0]),
				ExpectedHashes: slices.Clone(v.cfg.Pin.PublicKeyHashes),
				Error:          "ssl validation error: " + err.Error(),
			}
			v.cfg.Recorder.Store(res)

			return res.Err()
		}
	}

	res := Match(v.cfg.Pin, host, ChainHashes(cs.PeerCertificates))
	v.cfg.Recorder.Store(res)

	if !res.Success {
		v.logger.Warn("certificate pinning failed",
			"host", host,
			"found", res.FoundHash,
			"error", res.Error,
		)

		return res.Err()
	}

	v.logger.Debug("certificate pinning succeeded", "host", host, "hash", res.FoundHash)

	return nil
}

func (v *Verifier) verifyChain(host string, chain []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         v.cfg.RootCAs,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if _, err := chain[0].Verify(opts); err != nil {
		return fmt.Errorf("certificate not trusted: %w", err)
	}

	return nil
}
