package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON name so error messages match the wire
	// format callers actually sent.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if s == nil {
		return nil
	}

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validator: expected a struct, got %T", s)
	}

	err := validate.Struct(s)
	if err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			errMsgs := make([]string, 0, len(ve))
			for _, e := range ve {
				errMsgs = append(errMsgs, fmt.Sprintf("field '%s' failed validation: %s", e.Field(), e.Tag()))
			}
			return errors.New(strings.Join(errMsgs, "; "))
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
