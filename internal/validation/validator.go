// Package validation checks and sanitizes inbound client fields.
package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// FieldErrors maps a json field name to what is wrong with it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, field := range fields {
		msgs = append(msgs, field+": "+fe[field])
	}
	return strings.Join(msgs, "; ")
}

// Validator wraps go-playground/validator with json field names and the ident tag.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator.
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// ident: an identity field must parse as a UUID. Empty values are left to required.
	if err := v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		return IsIdentifier(value)
	}); err != nil {
		panic(fmt.Sprintf("validation: register ident: %v", err))
	}

	return &Validator{validate: v}
}

// Struct validates i and returns a validation error naming every failing field.
func (v *Validator) Struct(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errs.Internal(err, "validation failed")
	}

	fields := make(FieldErrors, len(validationErrors))
	for _, fe := range validationErrors {
		fields[fe.Field()] = message(fe)
	}
	return errs.Wrap(fields, errs.KindValidation, fields.Error())
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "ident":
		return "must be a valid identifier"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("is invalid (%s)", fe.Tag())
	}
}

// IsIdentifier reports whether s is a well-formed participant or session identifier.
func IsIdentifier(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
