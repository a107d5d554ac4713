package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seekerhq/seeker/pkg/access"
)

var _ access.Store = (*Store)(nil)

// Owner returns the owning user, or nil for system-owned objects.
func (s *Store) Owner(ctx context.Context, obj access.Object) (*uuid.UUID, error) {
	var owner *uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id FROM shareable_objects WHERE id = $1 AND object_type = $2`,
		obj.ID, string(obj.Type),
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: object owner: %w", err)
	}
	return owner, nil
}

// IsPublic reports whether the object is marked world-readable.
func (s *Store) IsPublic(ctx context.Context, obj access.Object) (bool, error) {
	var public bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_public FROM shareable_objects WHERE id = $1 AND object_type = $2`,
		obj.ID, string(obj.Type),
	).Scan(&public)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: object visibility: %w", err)
	}
	return public, nil
}

// Shares returns all share rows for the object.
func (s *Store) Shares(ctx context.Context, obj access.Object) ([]access.Share, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT object_id, object_type, user_id, organization_id, level
		 FROM shares WHERE object_id = $1 AND object_type = $2`,
		obj.ID, string(obj.Type))
	if err != nil {
		return nil, fmt.Errorf("postgres: object shares: %w", err)
	}
	defer rows.Close()

	var shares []access.Share
	for rows.Next() {
		var share access.Share
		var objType, level string
		if err := rows.Scan(&share.ObjectID, &objType, &share.UserID,
			&share.OrganizationID, &level); err != nil {
			return nil, fmt.Errorf("postgres: scan share: %w", err)
		}
		share.ObjectType = access.ObjectType(objType)
		if share.Level, err = access.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("postgres: share level: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// Memberships returns the organizations the user belongs to.
func (s *Store) Memberships(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization_id FROM organization_members WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: memberships: %w", err)
	}
	defer rows.Close()

	var orgs []uuid.UUID
	for rows.Next() {
		var orgID uuid.UUID
		if err := rows.Scan(&orgID); err != nil {
			return nil, fmt.Errorf("postgres: scan membership: %w", err)
		}
		orgs = append(orgs, orgID)
	}
	return orgs, rows.Err()
}

// Parent returns the containing object, or nil at the top.
func (s *Store) Parent(ctx context.Context, obj access.Object) (*access.Object, error) {
	var parentID *uuid.UUID
	var parentType *string
	err := s.pool.QueryRow(ctx,
		`SELECT parent_id, parent_type FROM shareable_objects WHERE id = $1 AND object_type = $2`,
		obj.ID, string(obj.Type),
	).Scan(&parentID, &parentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: object parent: %w", err)
	}
	if parentID == nil || parentType == nil {
		return nil, nil
	}
	return &access.Object{ID: *parentID, Type: access.ObjectType(*parentType)}, nil
}

// CountDocuments returns how many documents the user can see in the
// given billing scope. A nil orgID counts personal documents only.
func (s *Store) CountDocuments(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID) (int64, error) {
	var count int64
	var err error
	if orgID != nil {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM documents WHERE user_id = $1 OR organization_id = $2`,
			userID, *orgID,
		).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM documents WHERE user_id = $1 AND organization_id IS NULL`,
			userID,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count documents: %w", err)
	}
	return count, nil
}
