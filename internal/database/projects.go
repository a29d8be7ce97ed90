package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knova/knova/internal/authz"
)

// ProjectSource reads project facts for authorization-context resolution.
// Entity CRUD lives outside the core; this is a read-only view.
type ProjectSource struct {
	pool *pgxpool.Pool
}

// NewProjectSource creates a source backed by pool.
func NewProjectSource(pool *pgxpool.Pool) *ProjectSource {
	return &ProjectSource{pool: pool}
}

// ActiveProjects implements authz.ProjectSource. Facts are read fresh on
// every call; the resolver must never cache them across requests.
func (s *ProjectSource) ActiveProjects(ctx context.Context) ([]authz.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_by, private FROM projects WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*authz.Project)
	var order []int64
	for rows.Next() {
		var p authz.Project
		if err := rows.Scan(&p.ID, &p.CreatedBy, &p.Private); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		p.Active = true
		byID[p.ID] = &p
		order = append(order, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading project rows: %w", err)
	}

	memberRows, err := s.pool.Query(ctx, `
		SELECT project_id, user_id, is_admin FROM project_members`)
	if err != nil {
		return nil, fmt.Errorf("loading project members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var projectID int64
		var m authz.Member
		if err := memberRows.Scan(&projectID, &m.UserID, &m.Admin); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		if p, ok := byID[projectID]; ok {
			p.Members = append(p.Members, m)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("reading member rows: %w", err)
	}

	out := make([]authz.Project, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
