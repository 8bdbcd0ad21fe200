package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/auth"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
)

type createAPIKeyInput struct {
	Label       string `json:"label"`
	Environment string `json:"environment"`
}

// createdAPIKey is returned exactly once with the plaintext key. The key
// cannot be recovered afterwards.
type createdAPIKey struct {
	postgres.APIKey
	Key string `json:"key"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	var in createAPIKeyInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	in.Label = strings.TrimSpace(in.Label)
	if in.Label == "" {
		apperr.WriteJSON(w, apperr.Validationf("label must not be empty"))
		return
	}
	if !auth.ValidEnvironment(in.Environment) {
		apperr.WriteJSON(w, apperr.Validationf("environment must be %q or %q", auth.EnvironmentLive, auth.EnvironmentTest))
		return
	}

	plaintext, err := auth.GenerateKey(in.Environment)
	if err != nil {
		apperr.WriteJSON(w, apperr.Internalf("generate key: %v", err))
		return
	}
	hash, err := auth.HashKey(plaintext)
	if err != nil {
		apperr.WriteJSON(w, apperr.Internalf("hash key: %v", err))
		return
	}

	key, err := s.store.CreateAPIKey(r.Context(), postgres.CreateAPIKeyParams{
		ProjectID:   projectID,
		Prefix:      auth.Prefix(plaintext),
		KeyHash:     hash,
		Label:       in.Label,
		Environment: in.Environment,
	})
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}

	s.log.Info("api key created",
		zap.String("project_id", projectID.String()),
		zap.String("key_id", key.ID.String()),
		zap.String("prefix", key.Prefix))
	respondJSON(w, http.StatusCreated, createdAPIKey{APIKey: key, Key: plaintext})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	keys, err := s.store.ListAPIKeys(r.Context(), projectID)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "api key"))
		return
	}
	if keys == nil {
		keys = []postgres.APIKey{}
	}
	respondJSON(w, http.StatusOK, keys)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	keyID, err := uuidParam(r, "keyID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	if err := s.store.RevokeAPIKey(r.Context(), projectID, keyID); err != nil {
		apperr.WriteJSON(w, storeError(err, "api key"))
		return
	}

	s.log.Info("api key revoked",
		zap.String("project_id", projectID.String()),
		zap.String("key_id", keyID.String()))
	respondJSON(w, http.StatusNoContent, nil)
}
