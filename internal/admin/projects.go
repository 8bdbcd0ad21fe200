package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
)

const maxProjectNameLen = 255

type projectInput struct {
	Name string `json:"name"`
}

func (in *projectInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validationf("name must not be empty")
	}
	if len(in.Name) > maxProjectNameLen {
		return apperr.Validationf("name must be at most %d characters", maxProjectNameLen)
	}
	return nil
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in projectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	if err := in.validate(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	project, err := s.store.CreateProject(r.Context(), in.Name)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}

	s.log.Info("project created",
		zap.String("project_id", project.ID.String()),
		zap.String("name", project.Name))
	respondJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r, 20, 100)

	projects, hasMore, err := s.store.ListProjects(r.Context(), page, perPage)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Data []postgres.Project `json:"data"`
		Meta listMeta           `json:"meta"`
	}{
		Data: projects,
		Meta: listMeta{Page: page, PerPage: perPage, HasMore: hasMore},
	})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}
	respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	var in projectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	if err := in.validate(); err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	project, err := s.store.UpdateProject(r.Context(), projectID, in.Name)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}
	respondJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	if err := s.store.DeleteProject(r.Context(), projectID); err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}

	s.log.Info("project deleted", zap.String("project_id", projectID.String()))
	respondJSON(w, http.StatusNoContent, nil)
}
