// Package listing turns listing request parameters into store queries and
// wraps store results into the paginated response envelope.
//
// Unknown sort fields, sort orders and visibility values never fail a
// request: they fall back to created_at, desc and public respectively.
package listing

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/sakif/recipebox/internal/repository"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Visibility filters a single user's recipes.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityAll     Visibility = "all"
)

// Params are the listing parameters exactly as the client sent them, after
// numeric coercion.
type Params struct {
	Keyword    string
	Page       int
	PerPage    int
	Sort       string
	Order      string
	Visibility string
}

// ParseParams reads q, page, per_page, sort, order and visibility.
// q is used exactly as sent, surrounding spaces included: "pie " matches
// "pie crust" but not "apple pie".
// Missing, non-numeric or non-positive page values fall back to defaults;
// per_page is capped at MaxPerPage.
func ParseParams(v url.Values) Params {
	p := Params{
		Keyword:    v.Get("q"),
		Page:       positiveInt(v.Get("page"), DefaultPage),
		PerPage:    positiveInt(v.Get("per_page"), DefaultPerPage),
		Sort:       v.Get("sort"),
		Order:      v.Get("order"),
		Visibility: v.Get("visibility"),
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Scope selects which recipes a listing ranges over. The zero value is the
// global listing of published recipes.
type Scope struct {
	// UserID restricts the listing to one owner's recipes.
	UserID string
	// CallerID is the authenticated caller, "" when anonymous.
	CallerID string
}

// Global is the scope of GET /recipes: every published recipe.
func Global() Scope { return Scope{} }

// ForUser scopes a listing to userID's recipes as seen by callerID.
func ForUser(userID, callerID string) Scope {
	return Scope{UserID: userID, CallerID: callerID}
}

// Build normalises p against scope into a store query.
func Build(p Params, scope Scope) repository.RecipeQuery {
	q := repository.RecipeQuery{
		Keyword: p.Keyword,
		Sort:    SortField(p.Sort),
		Order:   SortOrder(p.Order),
		Page:    p.Page,
		PerPage: p.PerPage,
	}
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}

	published := true
	if scope.UserID == "" {
		q.Published = &published
		return q
	}

	q.OwnerID = scope.UserID
	switch EffectiveVisibility(p.Visibility, scope) {
	case VisibilityAll:
		q.Published = nil
	case VisibilityPrivate:
		unpublished := false
		q.Published = &unpublished
	default:
		q.Published = &published
	}
	return q
}

// EffectiveVisibility is the visibility actually applied to a per-user
// listing. Only the owner may ask for private or all; everyone else gets
// public.
//
// FORCING, NOT REJECTING:
// A stranger asking for visibility=private gets the public listing with a
// 200, not a 403. Rejecting would tell them the user has drafts worth
// hiding; quietly narrowing the filter gives away nothing and matches how
// unknown sort values are handled. The owner check compares ids, so an
// anonymous caller ("") can never match.
func EffectiveVisibility(raw string, scope Scope) Visibility {
	v := Visibility(raw)
	switch v {
	case VisibilityPrivate, VisibilityAll:
	default:
		return VisibilityPublic
	}
	if scope.CallerID == "" || scope.CallerID != scope.UserID {
		return VisibilityPublic
	}
	return v
}

// SortField maps a requested sort key onto the allow-list.
func SortField(raw string) repository.SortField {
	switch f := repository.SortField(raw); f {
	case repository.SortCreatedAt, repository.SortCookTime, repository.SortNumOfServings:
		return f
	default:
		return repository.SortCreatedAt
	}
}

// SortOrder maps a requested order onto asc/desc.
func SortOrder(raw string) repository.SortOrder {
	switch o := repository.SortOrder(raw); o {
	case repository.OrderAsc, repository.OrderDesc:
		return o
	default:
		return repository.OrderDesc
	}
}
