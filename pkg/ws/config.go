package ws

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

const closeNormal = 1000

// ErrorPolicy определяет реакцию на ошибку транспорта в состоянии OPEN.
type ErrorPolicy string

const (
	// ErrorPolicyWaitForClose: ошибка только доставляется, закрытие ждёт факта close.
	ErrorPolicyWaitForClose ErrorPolicy = "wait_for_close"
	// ErrorPolicyForceClose: ошибка сразу переводит соединение в CLOSED.
	ErrorPolicyForceClose ErrorPolicy = "force_close"
)

// Pacing - интервалы между раундами опроса транспорта.
type Pacing struct {
	Open    time.Duration `yaml:"open"`
	Idle    time.Duration `yaml:"idle"`
	Failure time.Duration `yaml:"failure"`
}

func DefaultPacing() Pacing {
	return Pacing{
		Open:    100 * time.Millisecond,
		Idle:    500 * time.Millisecond,
		Failure: 1000 * time.Millisecond,
	}
}

type TransportOptions struct {
	// AllowSelfSignedCerts отключает проверку цепочки CA. Только для разработки.
	AllowSelfSignedCerts bool              `yaml:"allow_self_signed_certs"`
	ConnectionTimeout    time.Duration     `yaml:"connection_timeout"`
	Headers              map[string]string `yaml:"headers"`
}

type Config struct {
	URL         string           `yaml:"url"`
	Protocols   []string         `yaml:"protocols"`
	Pinning     *pinning.Config  `yaml:"pinning"`
	Options     TransportOptions `yaml:"options"`
	ErrorPolicy ErrorPolicy      `yaml:"error_policy"`
	Pacing      Pacing           `yaml:"pacing"`
	Logger      *slog.Logger     `yaml:"-"`
}

func DefaultConfig(wsURL string) Config {
	return Config{
		URL:         wsURL,
		ErrorPolicy: ErrorPolicyWaitForClose,
		Pacing:      DefaultPacing(),
		Options: TransportOptions{
			ConnectionTimeout: 30 * time.Second,
		},
		Logger: slog.Default(),
	}
}

// ParseConfig читает YAML поверх значений по умолчанию.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig("")

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Logger = slog.Default()

	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	return ParseConfig(data)
}

// withDefaults заполняет незаданные поля. Ошибки конфигурации не
// проверяются: они сообщаются событием error при Connect.
func (c Config) withDefaults() Config {
	def := DefaultPacing()

	if c.Pacing.Open <= 0 {
		c.Pacing.Open = def.Open
	}

	if c.Pacing.Idle <= 0 {
		c.Pacing.Idle = def.Idle
	}

	if c.Pacing.Failure <= 0 {
		c.Pacing.Failure = def.Failure
	}

	if c.ErrorPolicy == "" {
		c.ErrorPolicy = ErrorPolicyWaitForClose
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// validate выполняет проверки, не требующие ввода-вывода.
func (c Config) validate() (Classification, error) {
	u, err := ValidateURL(c.URL)
	if err != nil {
		return Classification{KindValidation, CodeInvalidURL}, err
	}

	if c.ErrorPolicy != ErrorPolicyWaitForClose && c.ErrorPolicy != ErrorPolicyForceClose {
		return Classification{KindValidation, CodeWebSocketError}, fmt.Errorf("%w: %q", ErrInvalidErrorPolicy, c.ErrorPolicy)
	}

	if u.Scheme == "wss" {
		if c.Pinning == nil {
			return Classification{KindValidation, CodeSSLPinningFailed}, ErrPinningRequired
		}

		if err := c.Pinning.Validate(); err != nil {
			return Classification{KindValidation, CodeSSLPinningFailed}, err
		}
	}

	return Classification{}, nil
}

// ValidateURL проверяет, что адрес - ws:// или wss:// с непустым хостом.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	return u, nil
}

func ExtractHostname(raw string) (string, error) {
	u, err := ValidateURL(raw)
	if err != nil {
		return "", err
	}

	return u.Hostname(), nil
}
