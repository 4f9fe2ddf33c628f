package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv path; an empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names fields, such as "Payments.StripeAPIKey", that must resolve non-empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues merges dotenv, process env and the explicit map, later sources winning. main
// uses it to configure the secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values := map[string]string{}
	if options.envFile != "" {
		dot, err := godotenv.Read(options.envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", options.envFile, err)
		default:
			for k, v := range dot {
				values[k] = v
			}
		}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// envReader reads prefixed variables and remembers the ones that failed to parse, so a typo in
// a duration or amount is reported instead of silently replaced by the default.
type envReader struct {
	values    map[string]string
	malformed []string
}

func newEnvReader(values map[string]string) *envReader {
	return &envReader{values: values}
}

func (r *envReader) raw(key string) (string, bool) {
	value := strings.TrimSpace(r.values[EnvPrefix+key])
	return value, value != ""
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.malformed = append(r.malformed, EnvPrefix+key)
		return fallback
	}
	return d
}

func (r *envReader) integer(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.malformed = append(r.malformed, EnvPrefix+key)
		return fallback
	}
	return n
}

func (r *envReader) decimal(key, fallback string) decimal.Decimal {
	value, ok := r.raw(key)
	if !ok {
		return decimal.RequireFromString(fallback)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		r.malformed = append(r.malformed, EnvPrefix+key)
		return decimal.RequireFromString(fallback)
	}
	return d
}
