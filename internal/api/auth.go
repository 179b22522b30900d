package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/domain"
	"parkwise/internal/logging"

	"github.com/rs/zerolog"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
	quotaWindow         = time.Minute

	PermReadFacilities  = "read:facilities"
	PermWriteDetections = "write:detections"
	PermWriteBookings   = "write:bookings"
	PermWriteVehicles   = "write:vehicles"
	PermAdmin           = "admin"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

// HTTPAuth provides API-key auth, per-key token buckets and an optional shared
// per-minute quota for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	header  string
	keys    []config.APIClientKey
	limiter *rateLimiter
	quota   domain.RateLimitStore
	logger  *zerolog.Logger
}

func NewHTTPAuth(cfg config.APIConfig, quota domain.RateLimitStore, logger *zerolog.Logger) *HTTPAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &HTTPAuth{
		cfg:     cfg,
		header:  header,
		keys:    cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
		quota:   quota,
		logger:  logging.Component(logger, "auth"),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required := requiredPermission(r)
		if required == "" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r, required); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.allow(r) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request, required string) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.header))
	if apiKey == "" {
		return errMissingAPIKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return errInvalidAPIKey
	}

	// An empty permission list allows everything.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		p = strings.TrimSpace(p)
		if p == required || p == PermAdmin {
			return nil
		}
	}
	return errPermissionDenied
}

func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(apiKey)) == 1 {
			return k, true
		}
	}
	return config.APIClientKey{}, false
}

// allow applies the local token bucket first and then the shared quota. A
// quota store failure lets the request through.
func (a *HTTPAuth) allow(r *http.Request) bool {
	key := a.clientKey(r)
	if !a.limiter.allow(key) {
		return false
	}
	if a.quota == nil || a.cfg.RateLimit.PerMinute <= 0 {
		return true
	}

	ok, err := a.quota.CheckRateLimit(r.Context(), key, a.cfg.RateLimit.PerMinute, quotaWindow)
	if err != nil {
		logging.FromContext(r.Context(), a.logger).Warn().Err(err).Msg("rate limit store unavailable")
		return true
	}
	return ok
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// requiredPermission returns "" for public endpoints.
func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/healthz":
		return ""
	case strings.HasPrefix(path, "/api/v1/facilities"):
		if r.Method == http.MethodGet {
			return PermReadFacilities
		}
		return PermAdmin
	case path == "/api/v1/detections":
		return PermWriteDetections
	case strings.HasPrefix(path, "/api/v1/bookings"):
		return PermWriteBookings
	case strings.HasPrefix(path, "/api/v1/vehicles"):
		if strings.HasSuffix(path, "/verify") {
			return PermAdmin
		}
		return PermWriteVehicles
	default:
		return PermAdmin
	}
}
