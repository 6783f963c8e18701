package models

import (
	"fmt"
	"strings"
)

// AllocatableType distinguishes the two kinds of owners a submission can have.
type AllocatableType string

const (
	// AllocatableUser marks an individual student.
	AllocatableUser AllocatableType = "user"
	// AllocatableGroup marks a student group.
	AllocatableGroup AllocatableType = "group"
)

// Allocatable identifies who a submission, deadline or allocation belongs to.
// Exactly one variant is ever populated.
type Allocatable struct {
	ID   uint
	Type AllocatableType
}

// User builds a user allocatable.
func User(id uint) Allocatable {
	return Allocatable{ID: id, Type: AllocatableUser}
}

// Group builds a group allocatable.
func Group(id uint) Allocatable {
	return Allocatable{ID: id, Type: AllocatableGroup}
}

// ParseAllocatableType normalises a raw type name.
func ParseAllocatableType(raw string) (AllocatableType, error) {
	switch AllocatableType(strings.ToLower(strings.TrimSpace(raw))) {
	case AllocatableUser:
		return AllocatableUser, nil
	case AllocatableGroup:
		return AllocatableGroup, nil
	default:
		return "", fmt.Errorf("unknown allocatable type %q", raw)
	}
}

// Valid reports whether the allocatable carries a known variant and a non-zero id.
func (a Allocatable) Valid() bool {
	if a.ID == 0 {
		return false
	}
	switch a.Type {
	case AllocatableUser, AllocatableGroup:
		return true
	default:
		return false
	}
}

// IsGroup reports whether the allocatable is a group.
func (a Allocatable) IsGroup() bool {
	return a.Type == AllocatableGroup
}

// Lookup returns the user and group lookup columns derived from the variant.
func (a Allocatable) Lookup() (user *uint, group *uint) {
	id := a.ID
	switch a.Type {
	case AllocatableUser:
		return &id, nil
	case AllocatableGroup:
		return nil, &id
	default:
		return nil, nil
	}
}

func (a Allocatable) String() string {
	return fmt.Sprintf("%s:%d", a.Type, a.ID)
}
