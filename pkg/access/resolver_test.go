package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(t ObjectType) Object {
	return Object{ID: uuid.New(), Type: t}
}

func userShare(o Object, userID uuid.UUID, level Level) Share {
	uid := userID
	return Share{ObjectID: o.ID, ObjectType: o.Type, UserID: &uid, Level: level}
}

func orgShare(o Object, orgID uuid.UUID, level Level) Share {
	oid := orgID
	return Share{ObjectID: o.ID, ObjectType: o.Type, OrganizationID: &oid, Level: level}
}

func TestResolverPrecedence(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()
	member := uuid.New()
	orgID := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	doc := obj(TypeDocument)
	store.SetOwner(doc, owner)
	store.AddMembership(member, orgID)
	store.AddShare(orgShare(doc, orgID, Viewer))

	tests := []struct {
		name    string
		user    uuid.UUID
		action  Action
		allowed bool
	}{
		{"owner reads", owner, ActionRead, true},
		{"owner writes", owner, ActionWrite, true},
		{"stranger denied read", stranger, ActionRead, false},
		{"stranger denied write", stranger, ActionWrite, false},
		{"org viewer reads", member, ActionRead, true},
		{"org viewer cannot write", member, ActionWrite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Can(ctx, tt.user, tt.action, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, got)
		})
	}
}

func TestResolverPublicReadOnly(t *testing.T) {
	ctx := context.Background()
	stranger := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	style := obj(TypeStyle)
	store.SetOwner(style, uuid.New())
	store.SetPublic(style, true)

	canRead, err := resolver.Can(ctx, stranger, ActionRead, style)
	require.NoError(t, err)
	assert.True(t, canRead, "public objects are world-readable")

	canWrite, err := resolver.Can(ctx, stranger, ActionWrite, style)
	require.NoError(t, err)
	assert.False(t, canWrite, "public visibility never grants writes")
}

func TestUserShareUpgradesWeakerOrgShare(t *testing.T) {
	ctx := context.Background()
	member := uuid.New()
	orgID := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	creative := obj(TypeCreative)
	store.SetOwner(creative, uuid.New())
	store.AddMembership(member, orgID)
	store.AddShare(orgShare(creative, orgID, Viewer))

	canWrite, err := resolver.Can(ctx, member, ActionWrite, creative)
	require.NoError(t, err)
	require.False(t, canWrite)

	// An Editor user share overrides the weaker org share.
	store.AddShare(userShare(creative, member, Editor))
	canWrite, err = resolver.Can(ctx, member, ActionWrite, creative)
	require.NoError(t, err)
	assert.True(t, canWrite)
}

func TestWeakerUserShareDoesNotDowngradeOrgShare(t *testing.T) {
	ctx := context.Background()
	member := uuid.New()
	orgID := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	doc := obj(TypeDocument)
	store.SetOwner(doc, uuid.New())
	store.AddMembership(member, orgID)
	store.AddShare(orgShare(doc, orgID, Editor))
	store.AddShare(userShare(doc, member, Viewer))

	canWrite, err := resolver.Can(ctx, member, ActionWrite, doc)
	require.NoError(t, err)
	assert.True(t, canWrite, "the most permissive applicable share wins")
}

func TestAssetInheritsCollectionPermissions(t *testing.T) {
	ctx := context.Background()
	member := uuid.New()
	orgID := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	collection := obj(TypeCollection)
	asset := obj(TypeAsset)
	store.SetOwner(collection, uuid.New())
	store.SetOwner(asset, uuid.New())
	store.SetParent(asset, collection)
	store.AddMembership(member, orgID)
	store.AddShare(orgShare(collection, orgID, Editor))

	canWrite, err := resolver.Can(ctx, member, ActionWrite, asset)
	require.NoError(t, err)
	assert.True(t, canWrite, "assets inherit the containing collection's level")
}

func TestDirectAssetShareCoexistsWithInheritance(t *testing.T) {
	ctx := context.Background()
	member := uuid.New()
	orgID := uuid.New()

	store := NewMemoryStore()
	resolver := NewResolver(store, zerolog.Nop())

	collection := obj(TypeCollection)
	asset := obj(TypeAsset)
	store.SetParent(asset, collection)
	store.AddMembership(member, orgID)
	store.AddShare(orgShare(collection, orgID, Viewer))
	store.AddShare(userShare(asset, member, Editor))

	canWrite, err := resolver.Can(ctx, member, ActionWrite, asset)
	require.NoError(t, err)
	assert.True(t, canWrite, "a higher direct rule on the asset wins over the inherited one")

	canRead, err := resolver.Can(ctx, member, ActionRead, asset)
	require.NoError(t, err)
	assert.True(t, canRead)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("editor")
	require.NoError(t, err)
	assert.Equal(t, Editor, level)

	level, err = ParseLevel("viewer")
	require.NoError(t, err)
	assert.Equal(t, Viewer, level)

	_, err = ParseLevel("admin")
	assert.Error(t, err)
}
