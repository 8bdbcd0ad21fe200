package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Project is a tenant of the platform.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const projectColumns = `id, name, active, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProject inserts a new active project.
func (s *Store) CreateProject(ctx context.Context, name string) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (id, name, active, created_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		RETURNING `+projectColumns,
		uuid.New(), name,
	)
	p, err := scanProject(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Project{}, ErrDuplicateName
		}
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject fetches an active project by id.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND active = TRUE`,
		id,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns a page of active projects ordered by creation time,
// newest first. It fetches one extra row to derive hasMore.
func (s *Store) ListProjects(ctx context.Context, page, perPage int) ([]Project, bool, error) {
	offset := (page - 1) * perPage
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		perPage+1, offset,
	)
	if err != nil {
		return nil, false, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0, perPage)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list projects: %w", err)
	}

	hasMore := len(projects) > perPage
	if hasMore {
		projects = projects[:perPage]
	}
	return projects, hasMore, nil
}

// UpdateProject renames an active project.
func (s *Store) UpdateProject(ctx context.Context, id uuid.UUID, name string) (Project, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE projects
		SET name = $2, updated_at = NOW()
		WHERE id = $1 AND active = TRUE
		RETURNING `+projectColumns,
		id, name,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return Project{}, ErrDuplicateName
		}
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// DeleteProject soft-deletes a project and revokes all of its API keys in
// the same transaction.
func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE projects
			SET active = FALSE, updated_at = NOW()
			WHERE id = $1 AND active = TRUE`,
			id,
		)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
			UPDATE api_keys
			SET active = FALSE
			WHERE project_id = $1 AND active = TRUE`,
			id,
		); err != nil {
			return fmt.Errorf("revoke project keys: %w", err)
		}
		return nil
	})
}
