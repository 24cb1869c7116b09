package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealsynth/internal/apperrors"
	"mealsynth/internal/planner"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Correlation headers accepted on every request.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderSurveyID  = "X-Survey-ID"
)

type contextKey string

const identityKey contextKey = "identity"

// RequestLogger logs every request with its status and latency.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("api request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status_code", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Identity collects the correlation ids of a request: the bearer token
// subject, the session and survey headers. A request without a token is
// allowed; a request with an invalid one is rejected.
func Identity(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lookup := planner.Lookup{
				SessionID: strings.TrimSpace(r.Header.Get(HeaderSessionID)),
				SurveyID:  strings.TrimSpace(r.Header.Get(HeaderSurveyID)),
			}

			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok {
					writeError(w, apperrors.NewUnauthorized("invalid authorization header format"))
					return
				}
				userID, err := ParseToken(secret, token)
				if err != nil {
					writeError(w, apperrors.NewUnauthorized("invalid or expired token").WithCause(err))
					return
				}
				lookup.UserID = userID
			}

			ctx := context.WithValue(r.Context(), identityKey, lookup)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LookupFrom returns the correlation ids stored by Identity.
func LookupFrom(ctx context.Context) planner.Lookup {
	l, _ := ctx.Value(identityKey).(planner.Lookup)
	return l
}

// IssueToken signs an HS256 token whose subject is userID.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret []byte, raw string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
