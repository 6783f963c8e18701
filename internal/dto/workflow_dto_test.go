package dto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coursework/internal/models"
)

func TestAllocatableRefNormalisesType(t *testing.T) {
	require.Equal(t, models.Group(4), AllocatableRef{ID: 4, Type: " Group "}.Allocatable())
	require.Equal(t, models.User(9), AllocatableRef{ID: 9, Type: "user"}.Allocatable())

	unknown := AllocatableRef{ID: 9, Type: "team"}.Allocatable()
	require.False(t, unknown.Valid())

	require.Equal(t, AllocatableRef{ID: 4, Type: "group"}, NewAllocatableRef(models.Group(4)))
}
