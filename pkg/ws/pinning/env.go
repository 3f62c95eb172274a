package pinning

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv загружает конфигурацию пиннинга из переменных окружения
// PIN_HOSTNAME - хост
// PIN_PUBLIC_KEY_HASHES - хеши через запятую
// PIN_INCLUDE_SUBDOMAINS - true/false (необязательно)
// PIN_TIMEOUT - таймаут проверки, например 10s (необязательно)
func FromEnv() (*Config, error) {
	host := os.Getenv("PIN_HOSTNAME")
	rawHashes := os.Getenv("PIN_PUBLIC_KEY_HASHES")

	if host == "" || rawHashes == "" {
		return nil, fmt.Errorf("PIN_HOSTNAME and PIN_PUBLIC_KEY_HASHES environment variables are required")
	}

	cfg := &Config{Hostname: host}

	for h := range strings.SplitSeq(rawHashes, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.PublicKeyHashes = append(cfg.PublicKeyHashes, h)
		}
	}

	if v := os.Getenv("PIN_INCLUDE_SUBDOMAINS"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PIN_INCLUDE_SUBDOMAINS: %w", err)
		}

		cfg.IncludeSubdomains = include
	}

	if v := os.Getenv("PIN_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PIN_TIMEOUT: %w", err)
		}

		cfg.Timeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
