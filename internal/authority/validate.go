package authority

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var serviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("serviceid", func(fl validator.FieldLevel) bool {
		return serviceIDPattern.MatchString(fl.Field().String())
	})
	return v
}

type sceneNameInput struct {
	Name string `validate:"required,max=128,excludesall=/\\,ne=.,ne=.."`
}

type serviceIDInput struct {
	ID string `validate:"required,max=128,serviceid"`
}

// ValidateSceneName checks a scene name before it reaches the authority.
// Scenes are directories, so nested paths are refused.
func ValidateSceneName(name string) error {
	if err := validate.Struct(sceneNameInput{Name: name}); err != nil {
		return &ValidationError{Field: "scene name", Value: name, Reason: reason(err)}
	}
	return nil
}

// ValidateServiceID checks a service id against the compose naming rules.
func ValidateServiceID(id string) error {
	if err := validate.Struct(serviceIDInput{ID: id}); err != nil {
		return &ValidationError{Field: "service id", Value: id, Reason: reason(err)}
	}
	return nil
}

// CheckUnique returns a ValidationError when name is already in existing.
func CheckUnique(field, name string, existing []string) error {
	for _, e := range existing {
		if e == name {
			return &ValidationError{Field: field, Value: name, Reason: "already exists"}
		}
	}
	return nil
}

func reason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "required":
			return "must not be empty"
		case "max":
			return "too long"
		case "serviceid":
			return "must start with a letter or digit and contain only letters, digits, '_', '.' or '-'"
		case "excludesall", "ne":
			return "must be a single path segment"
		}
		return verrs[0].Tag()
	}
	return err.Error()
}
