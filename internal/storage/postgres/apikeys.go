package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// APIKey is the exposable view of a stored key. The hash never leaves the
// storage layer except through ActiveKey for verification.
type APIKey struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Prefix      string    `json:"prefix"`
	Label       string    `json:"label"`
	Environment string    `json:"environment"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveKey is a verification candidate for the ingestion edge.
type ActiveKey struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	KeyHash     string
	Environment string
}

// CreateAPIKeyParams carries the fields persisted for a freshly minted key.
type CreateAPIKeyParams struct {
	ProjectID   uuid.UUID
	Prefix      string
	KeyHash     string
	Label       string
	Environment string
}

// CreateAPIKey persists a new key for an active project.
func (s *Store) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (APIKey, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND active = TRUE)`,
		params.ProjectID,
	).Scan(&exists)
	if err != nil {
		return APIKey{}, fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return APIKey{}, ErrNotFound
	}

	var key APIKey
	err = s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, project_id, prefix, key_hash, label, environment, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())
		RETURNING id, project_id, prefix, label, environment, active, created_at`,
		uuid.New(), params.ProjectID, params.Prefix, params.KeyHash, params.Label, params.Environment,
	).Scan(&key.ID, &key.ProjectID, &key.Prefix, &key.Label, &key.Environment, &key.Active, &key.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns every key for a project, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, projectID uuid.UUID) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, prefix, label, environment, active, created_at
		FROM api_keys
		WHERE project_id = $1
		ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.ProjectID, &key.Prefix, &key.Label, &key.Environment, &key.Active, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deactivates a single key belonging to the project.
func (s *Store) RevokeAPIKey(ctx context.Context, projectID, keyID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET active = FALSE
		WHERE id = $1 AND project_id = $2 AND active = TRUE`,
		keyID, projectID,
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveKeysByPrefix returns verification candidates whose project is
// still active.
func (s *Store) FindActiveKeysByPrefix(ctx context.Context, prefix string) ([]ActiveKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT k.id, k.project_id, k.key_hash, k.environment
		FROM api_keys k
		JOIN projects p ON p.id = k.project_id
		WHERE k.prefix = $1 AND k.active = TRUE AND p.active = TRUE`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("find keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []ActiveKey
	for rows.Next() {
		var key ActiveKey
		if err := rows.Scan(&key.ID, &key.ProjectID, &key.KeyHash, &key.Environment); err != nil {
			return nil, fmt.Errorf("scan key candidate: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find keys by prefix: %w", err)
	}
	return keys, nil
}

// GetAPIKey fetches a single key row for a project.
func (s *Store) GetAPIKey(ctx context.Context, projectID, keyID uuid.UUID) (APIKey, error) {
	var key APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, prefix, label, environment, active, created_at
		FROM api_keys
		WHERE id = $1 AND project_id = $2`,
		keyID, projectID,
	).Scan(&key.ID, &key.ProjectID, &key.Prefix, &key.Label, &key.Environment, &key.Active, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}
