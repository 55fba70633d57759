package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a validation error for a single field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// New creates a new Validator instance.
func New() *Validator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations for the admin catalog/discount API
	_ = v.RegisterValidation("discount_kind", validateDiscountKind)
	_ = v.RegisterValidation("iso_city", validateNonEmptyTrimmed)
	_ = v.RegisterValidation("money", validateMoneyString)

	return &Validator{validate: v}
}

// Validate validates a struct and returns validation errors.
func (v *Validator) Validate(i interface{}) []ValidationError {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var errs []ValidationError
	for _, err := range err.(validator.ValidationErrors) {
		errs = append(errs, ValidationError{
			Field:   err.Field(),
			Tag:     err.Tag(),
			Value:   err.Param(),
			Message: getErrorMessage(err),
		})
	}

	return errs
}

// ValidateVar validates a single variable.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "lt":
		return "Value must be less than " + err.Param()
	case "lte":
		return "Value must be less than or equal to " + err.Param()
	case "oneof":
		return "Value must be one of: " + err.Param()
	case "discount_kind":
		return "Discount kind must be percentage or fixed"
	case "iso_city":
		return "Value must not be blank"
	case "money":
		return "Value must be a decimal with at most 2 fractional digits"
	default:
		return "Invalid value"
	}
}

// Custom validators

func validateDiscountKind(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "percentage", "fixed":
		return true
	default:
		return false
	}
}

func validateNonEmptyTrimmed(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validateMoneyString(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	dot := strings.IndexByte(s, '.')
	if dot == -1 {
		return s != "" && isAllDigits(s)
	}
	whole, frac := s[:dot], s[dot+1:]
	if whole == "" || len(frac) > 2 {
		return false
	}
	return isAllDigits(whole) && isAllDigits(frac)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
