package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validatable is a configuration struct that can check itself.
type Validatable interface {
	Validate() error
}

// getFieldFlag extracts the flag name from struct tags for the field at
// namespace, e.g. "Service.Dynamo.Endpoint".
func getFieldFlag(structType reflect.Type, namespace string) string {
	parts := strings.Split(namespace, ".")
	fieldName := parts[len(parts)-1]
	for i, name := range parts[1:] {
		if structType.Kind() == reflect.Ptr {
			structType = structType.Elem()
		}
		field, found := structType.FieldByName(name)
		if !found {
			break
		}
		if i == len(parts)-2 {
			// Check if this field has a flag tag
			if flagTag := field.Tag.Get("flag"); flagTag != "" {
				return "--" + flagTag
			}
			break
		}
		structType = field.Type
	}

	// Default to lowercase field name
	return "--" + strings.ToLower(fieldName)
}

func formatValidationError(structType reflect.Type, errs validator.ValidationErrors) error {
	var messages []string

	for _, err := range errs {
		field := err.Field()

		// Get flag name from struct tags
		flag := getFieldFlag(structType, err.StructNamespace())
		hint := fmt.Sprintf(" (see %s flag for help)", flag)

		switch err.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required but not provided%s", field, hint))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL%s", field, hint))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s%s", field, err.Param(), hint))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s%s", field, err.Param(), hint))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]%s", field, err.Param(), hint))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s%s", field, err.Tag(), hint))
		}
	}

	if len(messages) == 1 {
		return fmt.Errorf("config validation error: %s", messages[0])
	}
	return fmt.Errorf("config validation errors:\n  - %s", strings.Join(messages, "\n  - "))
}

func validateConfig[T Validatable](cfg T) error {
	if err := validate.Struct(cfg); err != nil {
		// Convert validation errors to custom messages
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationError(reflect.TypeOf(cfg), validationErrors)
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
