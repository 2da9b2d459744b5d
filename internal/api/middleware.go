package api

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/Startup-Consulting-Inc/newsletter/internal/config"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller returns the API key name that authenticated the request
func Caller(ctx context.Context) string {
	name, _ := ctx.Value(callerKey).(string)
	return name
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware checks API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check Authorization header
		key := r.Header.Get("Authorization")
		if key == "" {
			// Also check X-API-Key header
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		name, ok := s.auth.lookup(key)
		if !ok {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			sendError(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, name)))
	})
}

// bodyLimitMiddleware caps request body size
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// keyAuth verifies API keys against bcrypt hashes. Verified keys are
// remembered by digest so bcrypt runs once per key.
type keyAuth struct {
	keys []config.APIKeyConfig

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

func newKeyAuth(keys []config.APIKeyConfig) *keyAuth {
	return &keyAuth{keys: keys, verified: make(map[[sha256.Size]byte]string)}
}

func (a *keyAuth) lookup(key string) (string, bool) {
	if key == "" || len(a.keys) == 0 {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))
	a.mu.RLock()
	name, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			a.mu.Lock()
			a.verified[digest] = k.Name
			a.mu.Unlock()
			return k.Name, true
		}
	}
	return "", false
}

// HashKey returns the bcrypt hash of an API key for the configuration file
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
