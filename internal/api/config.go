package api

import "time"

const (
	defaultRequestTimeout = 10 * time.Second
	defaultHistoryLimit   = 50
	defaultAllowedOrigin  = "http://localhost:8000"
)

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func (config Config) requestTimeout() time.Duration {
	if config.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return config.RequestTimeout
}

// allowedOrigins never returns an empty list; cors.New rejects a config with
// all origins disabled.
func (config Config) allowedOrigins() []string {
	if len(config.AllowedOrigins) == 0 {
		return []string{defaultAllowedOrigin}
	}
	return config.AllowedOrigins
}
