package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxInheritanceDepth bounds the parent walk (asset → collection, or
// asset → creative → collection).
const maxInheritanceDepth = 4

// Store is the read seam of the resolver.
type Store interface {
	// Owner returns the owning user, or nil for system-owned objects.
	Owner(ctx context.Context, obj Object) (*uuid.UUID, error)

	// IsPublic reports whether the object is marked world-readable.
	IsPublic(ctx context.Context, obj Object) (bool, error)

	// Shares returns all share rows for the object.
	Shares(ctx context.Context, obj Object) ([]Share, error)

	// Memberships returns the organizations the user belongs to.
	Memberships(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// Parent returns the containing object (asset → collection,
	// creative → collection), or nil at the top.
	Parent(ctx context.Context, obj Object) (*Object, error)
}

// Resolver decides object permissions. Precedence: owner, then public
// read, then user shares, then organization shares; containment
// inherits the parent's outcome unless the object carries an
// equal-or-higher direct rule.
type Resolver struct {
	store Store
	log   zerolog.Logger
}

// NewResolver creates a resolver over a store.
func NewResolver(store Store, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   log.With().Str("component", "access").Logger(),
	}
}

// Can reports whether the user may perform the action on the object.
func (r *Resolver) Can(ctx context.Context, userID uuid.UUID, action Action, obj Object) (bool, error) {
	return r.can(ctx, userID, action, obj, 0)
}

func (r *Resolver) can(ctx context.Context, userID uuid.UUID, action Action, obj Object, depth int) (bool, error) {
	if depth > maxInheritanceDepth {
		return false, nil
	}

	owner, err := r.store.Owner(ctx, obj)
	if err != nil {
		return false, err
	}
	if owner != nil && *owner == userID {
		return true, nil
	}

	if action == ActionRead {
		public, err := r.store.IsPublic(ctx, obj)
		if err != nil {
			return false, err
		}
		if public {
			return true, nil
		}
	}

	level, err := r.grantedLevel(ctx, userID, obj)
	if err != nil {
		return false, err
	}
	if level >= action.RequiredLevel() {
		return true, nil
	}
	if level > 0 {
		r.log.Debug().
			Stringer("user_id", userID).
			Stringer("object_id", obj.ID).
			Str("granted", level.String()).
			Str("required", action.RequiredLevel().String()).
			Msg("direct share below required level")
	}

	parent, err := r.store.Parent(ctx, obj)
	if err != nil {
		return false, err
	}
	if parent != nil {
		allowed, err := r.can(ctx, userID, action, *parent, depth+1)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}

	return false, nil
}

// grantedLevel returns the strongest level the user holds on the
// object through direct user shares or organization shares.
func (r *Resolver) grantedLevel(ctx context.Context, userID uuid.UUID, obj Object) (Level, error) {
	shares, err := r.store.Shares(ctx, obj)
	if err != nil {
		return 0, err
	}
	if len(shares) == 0 {
		return 0, nil
	}

	var best Level
	var orgShares []Share
	for _, s := range shares {
		if s.UserID != nil && *s.UserID == userID {
			if s.Level > best {
				best = s.Level
			}
		} else if s.OrganizationID != nil {
			orgShares = append(orgShares, s)
		}
	}

	if len(orgShares) > 0 {
		memberships, err := r.store.Memberships(ctx, userID)
		if err != nil {
			return 0, err
		}
		member := make(map[uuid.UUID]bool, len(memberships))
		for _, org := range memberships {
			member[org] = true
		}
		for _, s := range orgShares {
			if member[*s.OrganizationID] && s.Level > best {
				best = s.Level
			}
		}
	}

	return best, nil
}
