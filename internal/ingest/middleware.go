package ingest

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/auth"
	"github.com/komorebitech/cf-truesight/internal/event"
)

type contextKey int

const (
	projectIDKey contextKey = iota
	requestIDKey
)

const requestIDHeader = "X-Request-Id"

// ProjectIDFromContext returns the authenticated project id, if any.
func ProjectIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(projectIDKey).(uuid.UUID)
	return id, ok
}

// RequestIDFromContext returns the request id assigned by the requestID
// middleware, or "" when none was assigned.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID adopts the caller's X-Request-Id or mints a fresh UUID, echoes
// the chosen id on the response header, and stores it in the context for
// the handlers.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// decompress handles zstd-compressed request bodies. Bodies without a
// Content-Encoding header pass through untouched; the size cap is enforced
// on the decompressed payload.
func (s *Server) decompress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
		switch encoding {
		case "":
			next.ServeHTTP(w, r)
			return
		case "zstd":
		default:
			apperr.WriteJSON(w, apperr.UnsupportedMediaTypef("unsupported Content-Encoding %q", encoding))
			return
		}

		compressed, err := io.ReadAll(io.LimitReader(r.Body, event.MaxBodySize+1))
		if err != nil {
			apperr.WriteJSON(w, apperr.Validationf("failed to read request body"))
			return
		}
		if len(compressed) > event.MaxBodySize {
			apperr.WriteJSON(w, apperr.PayloadTooLargef("compressed request body is too large"))
			return
		}

		reader, err := zstd.NewReader(bytes.NewReader(compressed))
		if err != nil {
			apperr.WriteJSON(w, apperr.Validationf("failed to decompress zstd body: %v", err))
			return
		}
		decompressed, err := io.ReadAll(io.LimitReader(reader, event.MaxBodySize+1))
		reader.Close()
		if err != nil {
			apperr.WriteJSON(w, apperr.Validationf("failed to decompress zstd body: %v", err))
			return
		}
		if len(decompressed) > event.MaxBodySize {
			apperr.WriteJSON(w, apperr.PayloadTooLargef("request body exceeds the %d byte limit", event.MaxBodySize))
			return
		}

		r.Header.Del("Content-Encoding")
		r.Body = io.NopCloser(bytes.NewReader(decompressed))
		r.ContentLength = int64(len(decompressed))
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the X-API-Key header to a project. Verified keys
// are cached by their SHA-256 index for the cache TTL; misses fall back to
// a prefix lookup plus Argon2 verification against each candidate.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("X-API-Key")
		if rawKey == "" {
			apperr.WriteJSON(w, apperr.Unauthorized("missing X-API-Key header"))
			return
		}

		index := auth.CacheIndex(rawKey)
		if res, ok := s.keyCache.Get(index); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectIDKey, res.ProjectID)))
			return
		}

		if len(rawKey) < auth.PrefixLen {
			apperr.WriteJSON(w, apperr.Unauthorized("invalid API key format"))
			return
		}

		candidates, err := s.keys.FindActiveKeysByPrefix(r.Context(), auth.Prefix(rawKey))
		if err != nil {
			s.log.Error("api key lookup failed", zap.Error(err))
			apperr.WriteJSON(w, apperr.Internalf("service unavailable"))
			return
		}

		for _, candidate := range candidates {
			ok, err := auth.VerifyKey(rawKey, candidate.KeyHash)
			if err != nil {
				s.log.Warn("api key verification error",
					zap.String("key_id", candidate.ID.String()),
					zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			s.keyCache.Put(index, auth.Resolution{
				KeyID:       candidate.ID,
				ProjectID:   candidate.ProjectID,
				Environment: candidate.Environment,
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectIDKey, candidate.ProjectID)))
			return
		}

		apperr.WriteJSON(w, apperr.Unauthorized("invalid API key"))
	})
}

// rateLimit enforces the per-project token bucket. Rejections carry a
// Retry-After header of at least one second.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := ProjectIDFromContext(r.Context())
		if !ok {
			apperr.WriteJSON(w, apperr.Unauthorized("missing project context"))
			return
		}

		reservation := s.limiters.Get(projectID).Reserve()
		if !reservation.OK() {
			w.Header().Set("Retry-After", "1")
			apperr.WriteJSON(w, apperr.RateLimited())
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retryAfter := int64(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			apperr.WriteJSON(w, apperr.RateLimited())
			return
		}

		next.ServeHTTP(w, r)
	})
}
