// Package policy decides who may see and who may change a recipe.
//
// The rules:
//
//	view:   published recipes are visible to everyone; unpublished ones only
//	        to their owner.
//	mutate: only the owner may update, delete, publish, unpublish or change
//	        the cover. There is no administrator override.
//
// A missing recipe is NotFound regardless of caller. An empty callerID is an
// anonymous caller. Both functions are pure; services call them after
// loading the record and before returning or changing anything.
package policy

import (
	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/model"
)

// Decision is the outcome of a policy check.
//
// WHY NOT A BOOL?
// "May not see it" has two answers with different status codes: the recipe
// does not exist (404), or it exists and the caller is not allowed (403).
// A three-valued result keeps that distinction in one place instead of
// having every service re-derive it from a nil check.
type Decision int

const (
	// Allow lets the operation proceed.
	Allow Decision = iota
	// Forbidden means the recipe exists but the caller may not use it.
	Forbidden
	// NotFound means there was no recipe to decide about.
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CanView decides whether callerID may read recipe. Published recipes are
// public; drafts are visible only to their owner. Anonymous callers ("")
// never own anything, so they see published recipes only.
func CanView(recipe *model.Recipe, callerID string) Decision {
	if recipe == nil {
		return NotFound
	}
	if recipe.IsPublish || recipe.OwnedBy(callerID) {
		return Allow
	}
	return Forbidden
}

// CanMutate decides whether callerID may change recipe. Publication status
// is irrelevant: a published recipe is still only writable by its owner.
func CanMutate(recipe *model.Recipe, callerID string) Decision {
	if recipe == nil {
		return NotFound
	}
	if recipe.OwnedBy(callerID) {
		return Allow
	}
	return Forbidden
}

// Err converts a decision into the error a service returns, or nil for
// Allow.
func (d Decision) Err(recipeID string) error {
	switch d {
	case Allow:
		return nil
	case NotFound:
		return apperror.NotFound("recipe", recipeID)
	default:
		return apperror.Forbidden("Access is not allowed")
	}
}
