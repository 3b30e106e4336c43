package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxIdentifierLength = 128

var actorIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Custom validators
	v.RegisterValidation("actor_id", validateActorID)
	v.RegisterValidation("room_name", validateRoomName)

	// Report json names in errors, clients never see Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

// Var validates a single value against a tag such as "actor_id".
func (v *Validator) Var(value any, tag string) error {
	return v.validate.Var(value, tag)
}

// Describe renders validation errors as "field: rule" pairs.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

func validateActorID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return len(id) <= maxIdentifierLength && actorIDPattern.MatchString(id)
}

// validateRoomName accepts human readable names but rejects blank, padded or
// control-character input.
func validateRoomName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || len(name) > maxIdentifierLength {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
