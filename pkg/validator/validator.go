package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	setupOnce sync.Once
	validate  *validator.Validate
)

// ValidationError describes one field that failed its rule. Field carries the
// JSON name so API clients can map the failure back to their payload.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors is the error type ValidateStruct returns for rule failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, failure := range v {
		if failure.Param != "" {
			parts[i] = failure.Field + " failed on " + failure.Tag + "=" + failure.Param
		} else {
			parts[i] = failure.Field + " failed on " + failure.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct runs the struct's `validate` tags and converts any rule
// failures into ValidationErrors.
func ValidateStruct(s any) error {
	err := sharedValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ruleErrs validator.ValidationErrors
	if errors.As(err, &ruleErrs) {
		failures := make(ValidationErrors, 0, len(ruleErrs))
		for _, fieldErr := range ruleErrs {
			failures = append(failures, ValidationError{
				Field: fieldErr.Field(),
				Tag:   fieldErr.Tag(),
				Param: fieldErr.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation adds a custom rule usable from `validate` tags.
func RegisterValidation(tag string, fn validator.Func) error {
	return sharedValidator().RegisterValidation(tag, fn)
}

func sharedValidator() *validator.Validate {
	setupOnce.Do(func() {
		validate = validator.New()
		// Report failures under the JSON field name, not the Go one.
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := field.Tag.Get("json")
			if name == "" {
				return field.Name
			}

			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}
