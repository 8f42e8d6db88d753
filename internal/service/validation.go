package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/auth"
	"github.com/sakif/recipebox/internal/imagestore"
)

const (
	MaxRecipeNameLength  = 100
	MaxDescriptionLength = 200
	MaxTextLength        = 1000
	MinServings          = 1
	MaxServings          = 50
	MinCookTime          = 1
	MaxCookTime          = 300
	MaxUsernameLength    = 80
	MaxEmailLength       = 200
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RecipeInput carries the writable recipe fields. A nil field was not
// sent; on update it leaves the stored value alone.
type RecipeInput struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	NumOfServings *int    `json:"num_of_servings"`
	CookTime      *int    `json:"cook_time"`
	Ingredients   *string `json:"ingredients"`
	Directions    *string `json:"directions"`
}

func (in *RecipeInput) normalize() {
	for _, s := range []*string{in.Name, in.Description, in.Ingredients, in.Directions} {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
}

// validate checks every provided field. Name is mandatory on create.
func (in *RecipeInput) validate(creating bool) error {
	return asValidationError(validation.ValidateStruct(in,
		validation.Field(&in.Name,
			validation.When(creating, validation.Required.Error("Name is required")),
			validation.Length(0, MaxRecipeNameLength),
		),
		validation.Field(&in.Description, validation.Length(0, MaxDescriptionLength)),
		validation.Field(&in.NumOfServings, intBetween(MinServings, MaxServings, "Number of servings")),
		validation.Field(&in.CookTime, intBetween(MinCookTime, MaxCookTime, "Cook time")),
		validation.Field(&in.Ingredients, validation.Length(0, MaxTextLength)),
		validation.Field(&in.Directions, validation.Length(0, MaxTextLength)),
	))
}

// RegisterInput is a new account request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in *RegisterInput) validate() error {
	return asValidationError(validation.ValidateStruct(in,
		validation.Field(&in.Username,
			validation.Required,
			validation.Length(1, MaxUsernameLength),
			validation.Match(usernamePattern).Error("may only contain letters, digits, '.', '_' and '-'"),
		),
		validation.Field(&in.Email, validation.Required, validation.Length(1, MaxEmailLength), is.EmailFormat),
		validation.Field(&in.Password,
			validation.Required,
			validation.By(func(v any) error {
				if len(v.(string)) > auth.MaxPasswordBytes {
					return fmt.Errorf("must be %d bytes or fewer", auth.MaxPasswordBytes)
				}
				return nil
			}),
		),
	))
}

// intBetween accepts nil and any value in [min, max]. Unlike the built-in
// threshold rules it does not treat 0 as "not provided".
func intBetween(min, max int, label string) validation.Rule {
	return validation.By(func(v any) error {
		n, _ := v.(*int)
		if n == nil {
			return nil
		}
		if *n < min || *n > max {
			return fmt.Errorf("%s must be between %d and %d", label, min, max)
		}
		return nil
	})
}

// asValidationError converts ozzo's per-field errors into an apperror.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for name, fe := range fieldErrs {
		fields[name] = fe.Error()
	}
	return apperror.Invalid(fields)
}

// uploadError maps an image processing failure onto the form field it came
// from. Non-validation failures pass through.
func uploadError(field string, err error) error {
	switch {
	case errors.Is(err, imagestore.ErrUnsupportedType),
		errors.Is(err, imagestore.ErrTooLarge),
		errors.Is(err, imagestore.ErrEmpty):
		msg := err.Error()
		if i := strings.Index(msg, ":"); i > 0 {
			msg = msg[:i]
		}
		return apperror.ValidationFailed(field, msg)
	default:
		return err
	}
}
