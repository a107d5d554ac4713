// Package access answers "may user U perform action A on object O?"
// for shareable objects: ownership, public visibility, direct user
// shares, organization shares, and collection inheritance.
package access

import (
	"fmt"

	"github.com/google/uuid"
)

// Level is a share permission level. Editor dominates Viewer.
type Level int

const (
	Viewer Level = iota + 1
	Editor
)

func (l Level) String() string {
	switch l {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts the persisted string form.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "viewer":
		return Viewer, nil
	case "editor":
		return Editor, nil
	default:
		return 0, fmt.Errorf("unknown access level %q", s)
	}
}

// Action is what the caller wants to do with the object.
type Action int

const (
	ActionRead Action = iota + 1
	ActionWrite
)

// RequiredLevel maps an action to the minimum share level.
func (a Action) RequiredLevel() Level {
	if a == ActionWrite {
		return Editor
	}
	return Viewer
}

// ObjectType enumerates the shareable tables.
type ObjectType string

const (
	TypeCollection   ObjectType = "collection"
	TypeAsset        ObjectType = "asset"
	TypeStyle        ObjectType = "style"
	TypeCreative     ObjectType = "creative"
	TypeDocument     ObjectType = "document"
	TypeCustomFormat ObjectType = "custom_format"
)

// Object identifies one shareable row.
type Object struct {
	ID   uuid.UUID
	Type ObjectType
}

// Share grants a user or an organization a level on an object. Exactly
// one of UserID/OrganizationID is set.
type Share struct {
	ObjectID       uuid.UUID
	ObjectType     ObjectType
	UserID         *uuid.UUID
	OrganizationID *uuid.UUID
	Level          Level
}
