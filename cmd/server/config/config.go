// Package config loads server settings from the environment.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"paychain/internal/payments"
	"paychain/internal/reliability"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none
// are given) without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// RedisConfig holds Redis connection and transcript retention settings.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	TranscriptTTL      time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// GRPCConfig holds the listen address and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for the metrics and events
// endpoints.
type ObservabilityConfig struct {
	Addr string
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env            string
	LogLevel       string
	DatabaseURL    string
	ScrubRulesFile string
}

// Production reports whether APP_ENV is "production".
func (c AppConfig) Production() bool { return c.Env == "production" }

// LoadApp reads process-wide settings. All of them are optional.
func LoadApp() AppConfig {
	return AppConfig{
		Env:            strings.TrimSpace(os.Getenv("APP_ENV")),
		LogLevel:       strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ScrubRulesFile: strings.TrimSpace(os.Getenv("SCRUB_RULES_FILE")),
	}
}

// RedisConfigured reports whether REDIS_URL is set.
func RedisConfigured() bool {
	return strings.TrimSpace(os.Getenv("REDIS_URL")) != ""
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.TranscriptTTL, err = requiredDuration("REDIS_TRANSCRIPT_TTL"); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadGRPC reads the gRPC listen address and ingress rate limit from env.
func LoadGRPC() (GRPCConfig, error) {
	interval, err := requiredDuration("GRPC_RATE_LIMIT_INTERVAL")
	if err != nil {
		return GRPCConfig{}, err
	}
	burst, err := requiredInt("GRPC_RATE_LIMIT_BURST")
	if err != nil {
		return GRPCConfig{}, err
	}
	addr := strings.TrimSpace(os.Getenv("GRPC_ADDR"))
	if addr == "" {
		addr = ":50051"
	}
	return GRPCConfig{
		Addr:              addr,
		RateLimitInterval: interval,
		RateLimitBurst:    burst,
	}, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadGateways reads gateway endpoints and credentials. Forte is enabled
// by FORTE_BASE_URL, and then its credentials are required.
func LoadGateways() (payments.DigitalRiverConfig, payments.ForteConfig, error) {
	dr := payments.DigitalRiverConfig{
		BaseURL: strings.TrimSpace(os.Getenv("DIGITAL_RIVER_BASE_URL")),
		Token:   strings.TrimSpace(os.Getenv("DIGITAL_RIVER_TOKEN")),
	}
	if dr.BaseURL != "" && dr.Token == "" {
		return dr, payments.ForteConfig{}, errors.New("DIGITAL_RIVER_TOKEN is required when DIGITAL_RIVER_BASE_URL is set")
	}

	forte := payments.ForteConfig{BaseURL: strings.TrimSpace(os.Getenv("FORTE_BASE_URL"))}
	if forte.BaseURL == "" {
		return dr, forte, nil
	}
	var err error
	if forte.OrganizationID, err = requiredString("FORTE_ORGANIZATION_ID"); err != nil {
		return dr, forte, err
	}
	if forte.LocationID, err = requiredString("FORTE_LOCATION_ID"); err != nil {
		return dr, forte, err
	}
	if forte.AccessID, err = requiredString("FORTE_API_ACCESS_ID"); err != nil {
		return dr, forte, err
	}
	if forte.SecureKey, err = requiredString("FORTE_API_SECURE_KEY"); err != nil {
		return dr, forte, err
	}
	return dr, forte, nil
}

// LoadReliability reads the outbound gateway guard settings. Unset values
// fall back to three attempts with a 200ms base delay capped at 2s, and a
// breaker opening after five failures for 30s.
func LoadReliability() (reliability.Config, error) {
	cfg := reliability.Config{
		RetryMaxAttempts:    3,
		RetryBaseDelay:      200 * time.Millisecond,
		RetryMaxDelay:       2 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"GATEWAY_RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts},
		{"GATEWAY_BREAKER_MAX_FAILURES", &cfg.BreakerMaxFailures},
		{"GATEWAY_RATE_LIMIT_BURST", &cfg.RateLimitBurst},
	}
	for _, f := range ints {
		v, err := optionalInt(f.name)
		if err != nil {
			return cfg, err
		}
		if v != nil {
			*f.dst = *v
		}
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"GATEWAY_RETRY_BASE_DELAY", &cfg.RetryBaseDelay},
		{"GATEWAY_RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
		{"GATEWAY_BREAKER_RESET_TIMEOUT", &cfg.BreakerResetTimeout},
		{"GATEWAY_RATE_LIMIT_INTERVAL", &cfg.RateLimitInterval},
	}
	for _, f := range durations {
		v, err := optionalDuration(f.name)
		if err != nil {
			return cfg, err
		}
		if v != nil {
			*f.dst = *v
		}
	}
	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredInt(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
