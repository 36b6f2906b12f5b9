package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type ctxKey int

const ctxCallerKey ctxKey = iota

// callerFrom returns the authenticated caller address, or "" when the
// request carried no identity.
func callerFrom(r *http.Request) string {
	caller, _ := r.Context().Value(ctxCallerKey).(string)
	return caller
}

// authMiddleware resolves the caller identity. With a JWT secret configured
// it requires a valid HS256 bearer token and takes the caller from the sub
// claim; without one it trusts the X-Caller-Address header.
func (h *handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.JWTSecret == "" {
			ctx := context.WithValue(r.Context(), ctxCallerKey, strings.TrimSpace(r.Header.Get("X-Caller-Address")))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Views stay open; only requests that need an identity fail
			// later at the guard.
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid authorization header"))
			return
		}

		caller, err := h.validateToken(parts[1])
		if err != nil {
			h.log.WithError(err).Warn("token validation failed")
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxCallerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(h.opts.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token invalid")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return subject, nil
}

// rateLimitMiddleware applies a global token-bucket limit.
func (h *handler) rateLimitMiddleware(next http.Handler) http.Handler {
	burst := h.opts.RateBurst
	if burst <= 0 {
		burst = int(h.opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(h.opts.RateLimit), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auditMiddleware records every request outcome.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.audit.add(auditEntry{
			Time:       timeNow(),
			Caller:     callerFrom(r),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
