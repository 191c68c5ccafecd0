// Package validate wraps go-playground/validator with JSON field names in
// error messages.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	instance *validator.Validate
	once     sync.Once
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return instance
}

// Struct validates a single struct object
func Struct(s any) error {
	if s == nil {
		return errors.New("is nil")
	}
	if !isStruct(s) {
		return errors.New("not a struct")
	}
	var validationErrors validator.ValidationErrors
	var invalidValidationError *validator.InvalidValidationError

	err := get().Struct(s)
	if err == nil {
		return nil
	}

	switch {
	case errors.As(err, &validationErrors):
		parts := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			if fieldErr.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s %s", fieldErr.Field(), fieldErr.Tag()))
		}
		return errors.New(strings.Join(parts, "; "))
	case errors.As(err, &invalidValidationError):
		return fmt.Errorf("invalid validation error: %w", err)
	default:
		return fmt.Errorf("unknown validation error: %w", err)
	}
}

func isStruct(s any) bool {
	r := reflect.TypeOf(s)
	if r.Kind() == reflect.Ptr {
		r = r.Elem()
	}
	return r.Kind() == reflect.Struct
}
