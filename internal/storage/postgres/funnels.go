package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FunnelStep is one ordered stage of a funnel definition.
type FunnelStep struct {
	EventName string         `json:"event_name"`
	Filters   map[string]any `json:"filters,omitempty"`
}

// Funnel is a saved conversion funnel definition. Steps are ordered and
// persisted as JSONB.
type Funnel struct {
	ID            uuid.UUID    `json:"id"`
	ProjectID     uuid.UUID    `json:"project_id"`
	Name          string       `json:"name"`
	Steps         []FunnelStep `json:"steps"`
	WindowSeconds int          `json:"window_seconds"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

const funnelColumns = `id, project_id, name, steps, window_seconds, created_at, updated_at`

func scanFunnel(row pgx.Row) (Funnel, error) {
	var f Funnel
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Steps, &f.WindowSeconds, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// CreateFunnelParams carries the fields of a new funnel definition.
type CreateFunnelParams struct {
	ProjectID     uuid.UUID
	Name          string
	Steps         []FunnelStep
	WindowSeconds int
}

// CreateFunnel persists a funnel for an active project.
func (s *Store) CreateFunnel(ctx context.Context, params CreateFunnelParams) (Funnel, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND active = TRUE)`,
		params.ProjectID,
	).Scan(&exists)
	if err != nil {
		return Funnel{}, fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return Funnel{}, ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO funnels (id, project_id, name, steps, window_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING `+funnelColumns,
		uuid.New(), params.ProjectID, params.Name, params.Steps, params.WindowSeconds,
	)
	f, err := scanFunnel(row)
	if err != nil {
		return Funnel{}, fmt.Errorf("create funnel: %w", err)
	}
	return f, nil
}

// GetFunnel fetches a funnel belonging to the project.
func (s *Store) GetFunnel(ctx context.Context, projectID, funnelID uuid.UUID) (Funnel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+funnelColumns+`
		FROM funnels
		WHERE id = $1 AND project_id = $2`,
		funnelID, projectID,
	)
	f, err := scanFunnel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Funnel{}, ErrNotFound
		}
		return Funnel{}, fmt.Errorf("get funnel: %w", err)
	}
	return f, nil
}

// ListFunnels returns every funnel of a project, newest first.
func (s *Store) ListFunnels(ctx context.Context, projectID uuid.UUID) ([]Funnel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+funnelColumns+`
		FROM funnels
		WHERE project_id = $1
		ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	defer rows.Close()

	var funnels []Funnel
	for rows.Next() {
		f, err := scanFunnel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan funnel: %w", err)
		}
		funnels = append(funnels, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list funnels: %w", err)
	}
	return funnels, nil
}

// UpdateFunnelParams carries the replaceable fields of a funnel.
type UpdateFunnelParams struct {
	Name          string
	Steps         []FunnelStep
	WindowSeconds int
}

// UpdateFunnel replaces the definition of an existing funnel.
func (s *Store) UpdateFunnel(ctx context.Context, projectID, funnelID uuid.UUID, params UpdateFunnelParams) (Funnel, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE funnels
		SET name = $3, steps = $4, window_seconds = $5, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING `+funnelColumns,
		funnelID, projectID, params.Name, params.Steps, params.WindowSeconds,
	)
	f, err := scanFunnel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Funnel{}, ErrNotFound
		}
		return Funnel{}, fmt.Errorf("update funnel: %w", err)
	}
	return f, nil
}

// DeleteFunnel removes a funnel definition.
func (s *Store) DeleteFunnel(ctx context.Context, projectID, funnelID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM funnels
		WHERE id = $1 AND project_id = $2`,
		funnelID, projectID,
	)
	if err != nil {
		return fmt.Errorf("delete funnel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
