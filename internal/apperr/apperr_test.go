package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindMappings(t *testing.T) {
	cases := []struct {
		err    *Error
		code   string
		status int
	}{
		{Validationf("bad"), "VALIDATION_ERROR", http.StatusBadRequest},
		{Unauthorized("no"), "UNAUTHORIZED", http.StatusUnauthorized},
		{NotFoundf("missing"), "NOT_FOUND", http.StatusNotFound},
		{RateLimited(), "RATE_LIMITED", http.StatusTooManyRequests},
		{PayloadTooLargef("big"), "PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge},
		{UnsupportedMediaTypef("enc"), "UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType},
		{Internalf("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
		{Databasef("db"), "DATABASE_ERROR", http.StatusInternalServerError},
		{Sqsf("queue"), "SQS_ERROR", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, tc.err.Code())
		require.Equal(t, tc.status, tc.err.Status())
	}
}

func TestFromPassesThroughAppErrors(t *testing.T) {
	original := NotFoundf("project not found")
	wrapped := fmt.Errorf("handling request: %w", original)

	coerced := From(wrapped)
	require.Equal(t, KindNotFound, coerced.Kind)
	require.Equal(t, "project not found", coerced.Message)
}

func TestFromClassifiesUnknownAsInternal(t *testing.T) {
	coerced := From(errors.New("disk on fire"))
	require.Equal(t, KindInternal, coerced.Kind)
	require.Equal(t, "disk on fire", coerced.Message)
}

func TestWrapRetainsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindDatabase, cause, "query failed")
	require.ErrorIs(t, err, cause)
}

func TestWriteJSONBodyShape(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, Validationf("event_name must be at most %d characters", 256))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	require.Equal(t, "event_name must be at most 256 characters", body.Error.Message)
}

func TestWriteJSONPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, errors.New("unexpected"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
