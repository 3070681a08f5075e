// Package config handles application configuration from environment variables
// and the provider pattern tables loaded from TOML.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Transport settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	RequestTimeout  time.Duration
	DNSServer       string
	UTLSHosts       []string

	// Persistence
	StorePath     string
	ProvidersFile string

	// Logging
	LogLevel string
	LogJSON  bool

	// Extraction
	DrilldownMaxDepth int

	// Challenge engine
	ChallengeBackend       string
	BrowserBin             string
	BrowserHeadless        bool
	ChallengePollInterval  time.Duration
	ChallengeMaxAttempts   int
	ChallengeDeadline      time.Duration
	ChallengeEscalateAfter int

	// FlareSolverr settings (non-interactive challenge backend)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// Challenge backends.
const (
	BackendRod          = "rod"
	BackendFlareSolverr = "flaresolverr"
)

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Port:                   getEnvInt("PORT", 7860),
		ReadTimeout:            getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:           getEnvDuration("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:            getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIPassword:            os.Getenv("API_PASSWORD"),
		GlobalProxies:          getEnvStringSlice("GLOBAL_PROXIES", nil),
		RequestTimeout:         getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		DNSServer:              getEnvString("DNS_SERVER", ""),
		UTLSHosts:              getEnvStringSlice("UTLS_HOSTS", nil),
		StorePath:              getEnvString("STORE_PATH", ""),
		ProvidersFile:          getEnvString("PROVIDERS_FILE", ""),
		LogLevel:               getEnvString("LOG_LEVEL", "info"),
		LogJSON:                getEnvBool("LOG_JSON", false),
		DrilldownMaxDepth:      getEnvInt("DRILLDOWN_MAX_DEPTH", 4),
		ChallengeBackend:       strings.ToLower(getEnvString("CHALLENGE_BACKEND", BackendRod)),
		BrowserBin:             getEnvString("BROWSER_BIN", ""),
		BrowserHeadless:        getEnvBool("BROWSER_HEADLESS", true),
		ChallengePollInterval:  getEnvDuration("CHALLENGE_POLL_INTERVAL", 2*time.Second),
		ChallengeMaxAttempts:   getEnvInt("CHALLENGE_MAX_ATTEMPTS", 80),
		ChallengeDeadline:      getEnvDuration("CHALLENGE_DEADLINE", 120*time.Second),
		ChallengeEscalateAfter: getEnvInt("CHALLENGE_ESCALATE_AFTER", 2),
		FlareSolverrURL:        getEnvString("FLARESOLVERR_URL", ""),
		FlareSolverrTimeout:    getEnvDuration("FLARESOLVERR_TIMEOUT", 60*time.Second),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(strings.TrimSpace(kv[0])) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Bare integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
