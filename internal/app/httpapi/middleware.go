package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/merryworks/magicledger/internal/app/auth"
)

type ctxKey int

const (
	ctxParentKey ctxKey = iota
	ctxAdminKey
)

func parentFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxParentKey).(string); ok {
		return id
	}
	return ""
}

func isAdmin(ctx context.Context) bool {
	admin, ok := ctx.Value(ctxAdminKey).(bool)
	return ok && admin
}

// isPublic reports whether the route is reachable without credentials.
func isPublic(r *http.Request) bool {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/parents":
		return true
	case r.Method == http.MethodPost && path == "/login":
		return true
	case r.Method == http.MethodGet && path == "/gifts":
		return true
	case strings.HasPrefix(path, "/share/"):
		return true
	case r.Method == http.MethodPost && path == "/payments/webhook":
		return true
	case path == "/healthz":
		return true
	}
	return false
}

// wrapWithAuth authenticates bearer credentials: a static admin token marks
// the request as admin, anything else must be a valid session token. Public
// routes pass through untouched.
func wrapWithAuth(next http.Handler, adminTokens []string, tokens *auth.Manager) http.Handler {
	admin := make(map[string]struct{}, len(adminTokens))
	for _, t := range adminTokens {
		if t = strings.TrimSpace(t); t != "" {
			admin[t] = struct{}{}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		if _, ok := admin[token]; ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAdminKey, true)))
			return
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxParentKey, claims.Subject)))
	})
}

// wrapWithCORS adds permissive CORS headers and answers preflights.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAudit records mutating requests in the audit log.
func wrapWithAudit(next http.Handler, log *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		if r.Method == http.MethodGet || r.Method == http.MethodOptions {
			return
		}
		log.add(auditEntry{
			Time:       start.UTC(),
			ParentID:   parentFromContext(r.Context()),
			Admin:      isAdmin(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Target:     auditTarget(r.URL.Path),
			Status:     rec.status,
			DurationMS: time.Since(start).Milliseconds(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// rateLimiter throttles requests per client key.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	// Bound memory; the map resets rather than tracking last access.
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// clientKey extracts the caller's IP for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
