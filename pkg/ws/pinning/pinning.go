// Package pinning реализует пиннинг сертификатов по SHA-256 хешу открытого ключа
// (SubjectPublicKeyInfo) и контракт ValidationResult, который запрашивает ядро ws.
package pinning

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrEmptyPinSet     = errors.New("pinning: public key hash set is empty")
	ErrEmptyHostname   = errors.New("pinning: hostname is required")
	ErrHostMismatch    = errors.New("ssl pinning failed: hostname does not match pinning configuration")
	ErrHashMismatch    = errors.New("ssl pinning failed: public key hash does not match expected values")
	ErrEmptyChain      = errors.New("ssl pinning failed: certificate chain is empty")
	ErrPublicSuffixPin = errors.New("pinning: subdomain pinning of a public suffix is not allowed")
)

// Config описывает набор допустимых SHA-256 хешей открытого ключа для хоста.
type Config struct {
	Hostname          string        `yaml:"hostname"`
	PublicKeyHashes   []string      `yaml:"public_key_hashes"`
	IncludeSubdomains bool          `yaml:"include_subdomains"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c *Config) Validate() error {
	if c == nil {
		return ErrEmptyPinSet
	}

	if strings.TrimSpace(c.Hostname) == "" {
		return ErrEmptyHostname
	}

	if len(c.PublicKeyHashes) == 0 {
		return ErrEmptyPinSet
	}

	for i, h := range c.PublicKeyHashes {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: hash #%d is blank", ErrEmptyPinSet, i)
		}
	}

	if c.IncludeSubdomains {
		suffix, _ := publicsuffix.PublicSuffix(normalizeHost(c.Hostname))
		if suffix == normalizeHost(c.Hostname) {
			return fmt.Errorf("%w: %s", ErrPublicSuffixPin, c.Hostname)
		}
	}

	return nil
}

// Result - результат проверки, запрашивается по требованию и никогда не пушится.
type Result struct {
	Success        bool     `json:"success" yaml:"success"`
	Hostname       string   `json:"hostname" yaml:"hostname"`
	FoundHash      string   `json:"foundKeyHash,omitempty" yaml:"found_key_hash,omitempty"`
	ExpectedHashes []string `json:"expectedKeyHashes" yaml:"expected_key_hashes"`
	Error          string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Err возвращает ошибку, соответствующую неуспешному результату.
func (r Result) Err() error {
	if r.Success {
		return nil
	}

	return &Error{Result: r}
}

// Error несёт диагностику пиннинга вместе с текстом ошибки.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	msg := e.Result.Error
	if msg == "" {
		msg = ErrHashMismatch.Error()
	}

	return fmt.Sprintf("%s (host %s)", msg, e.Result.Hostname)
}

// MatchHost проверяет, покрывает ли конфигурация хост соединения.
func (c *Config) MatchHost(host string) bool {
	want := normalizeHost(c.Hostname)
	got := normalizeHost(host)

	if got == want {
		return true
	}

	if !c.IncludeSubdomains {
		return false
	}

	// публичный суффикс или IP не может покрывать поддомены
	if _, err := publicsuffix.EffectiveTLDPlusOne(want); err != nil {
		return false
	}

	return strings.HasSuffix(got, "."+want)
}

// Match сравнивает хеши цепочки (лист первым) с ожидаемыми.
func Match(cfg *Config, host string, chainHashes []string) Result {
	res := Result{
		Hostname:       host,
		ExpectedHashes: slices.Clone(cfg.PublicKeyHashes),
	}

	if len(chainHashes) == 0 {
		res.Error = ErrEmptyChain.Error()
		return res
	}

	res.FoundHash = chainHashes[0]

	if !cfg.MatchHost(host) {
		res.Error = ErrHostMismatch.Error()
		return res
	}

	for _, h := range chainHashes {
		if slices.Contains(cfg.PublicKeyHashes, h) {
			res.FoundHash = h
			res.Success = true

			return res
		}
	}

	res.Error = ErrHashMismatch.Error()

	return res
}

func normalizeHost(h string) string {
	h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")

	return h
}
