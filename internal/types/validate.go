package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	adverrors "rail-conflict-advisor/internal/errors"
)

// validate is shared by every boundary type; custom enum tags are registered once
var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("conflict_type", func(fl validator.FieldLevel) bool {
		return ConflictType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		return Strategy(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return Severity(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("time_of_day", func(fl validator.FieldLevel) bool {
		return TimeOfDay(fl.Field().String()).Valid()
	})
}

// validateStruct runs the tag rules and converts the first failure into a
// ValidationError naming the offending field
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return adverrors.NewValidationError("", err.Error(), nil)
	}

	fe := fieldErrs[0]
	return adverrors.NewValidationError(fe.Field(), reasonFor(fe), fe.Value())
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "conflict_type", "strategy", "severity", "time_of_day":
		return fmt.Sprintf("unknown %s %q", strings.ReplaceAll(fe.Tag(), "_", " "), fe.Value())
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// ParseStrategy converts and checks a strategy name
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.TrimSpace(s))
	if !st.Valid() {
		return "", adverrors.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", s), s)
	}
	return st, nil
}

// ParseConflictType converts and checks a conflict type name
func ParseConflictType(s string) (ConflictType, error) {
	ct := ConflictType(strings.TrimSpace(s))
	if !ct.Valid() {
		return "", adverrors.NewValidationError("conflict_type", fmt.Sprintf("unknown conflict type %q", s), s)
	}
	return ct, nil
}
