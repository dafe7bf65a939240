package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-processing-api/internal/models"
)

// newValidator returns a validator that reports JSON field names and knows
// how to check decimal amounts
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Decimals are validated through their canonical string form
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return !d.IsNegative() && d.Equal(d.Round(2)) && d.LessThanOrEqual(models.MaxAmount)
	})

	return v
}

// formatValidationError turns validator output into field -> message pairs
// keyed by JSON path, e.g. items[0].price
func formatValidationError(err error) map[string]string {
	details := make(map[string]string)

	var validationErrors validator.ValidationErrors

	if !errors.As(err, &validationErrors) {
		details["request"] = "is invalid"
		return details
	}

	for _, fe := range validationErrors {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch fe.Tag() {
		case "required", "notblank":
			details[field] = "is required"
		case "min":
			details[field] = fmt.Sprintf("must contain at least %s entries", fe.Param())
		case "gt":
			details[field] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "lte":
			details[field] = fmt.Sprintf("must not exceed %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "money":
			details[field] = "must be a non-negative amount with at most 2 decimal places, up to " + models.MaxAmount.String()
		default:
			details[field] = "is invalid"
		}
	}

	return details
}
