package policy

import (
	"testing"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/model"
	"github.com/stretchr/testify/assert"
)

const (
	owner    = "owner-1"
	stranger = "user-2"
	anon     = ""
)

func recipe(published bool) *model.Recipe {
	return &model.Recipe{ID: "r1", UserID: owner, IsPublish: published}
}

func TestCanView(t *testing.T) {
	tests := []struct {
		name   string
		recipe *model.Recipe
		caller string
		want   Decision
	}{
		{"published, anonymous", recipe(true), anon, Allow},
		{"published, stranger", recipe(true), stranger, Allow},
		{"published, owner", recipe(true), owner, Allow},
		{"unpublished, anonymous", recipe(false), anon, Forbidden},
		{"unpublished, stranger", recipe(false), stranger, Forbidden},
		{"unpublished, owner", recipe(false), owner, Allow},
		{"missing, anonymous", nil, anon, NotFound},
		{"missing, owner", nil, owner, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanView(tt.recipe, tt.caller))
		})
	}
}

func TestCanMutate(t *testing.T) {
	tests := []struct {
		name   string
		recipe *model.Recipe
		caller string
		want   Decision
	}{
		{"owner, published", recipe(true), owner, Allow},
		{"owner, unpublished", recipe(false), owner, Allow},
		{"stranger, published", recipe(true), stranger, Forbidden},
		{"stranger, unpublished", recipe(false), stranger, Forbidden},
		{"anonymous, published", recipe(true), anon, Forbidden},
		{"missing", nil, owner, NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanMutate(tt.recipe, tt.caller))
		})
	}
}

func TestAnonymousNeverOwnsOwnerlessRecipe(t *testing.T) {
	r := &model.Recipe{ID: "r1", UserID: "", IsPublish: false}
	assert.Equal(t, Forbidden, CanView(r, anon))
	assert.Equal(t, Forbidden, CanMutate(r, anon))
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, Allow.Err("r1"))
	assert.ErrorIs(t, Forbidden.Err("r1"), apperror.ErrForbidden)
	assert.ErrorIs(t, NotFound.Err("r1"), apperror.ErrNotFound)
	assert.Equal(t, "not_found", NotFound.String())
}
