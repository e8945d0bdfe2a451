// Package document checks the attributes a user asserts against the text printed on their ID card.
package document

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Claim field names, as used in per-field results and user messages.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldAge       = "age"
	FieldIDNumber  = "idNumber"
)

// VerifiedFields lists the claim fields that are matched against the document, in display order.
var VerifiedFields = []string{FieldFirstName, FieldLastName, FieldAge, FieldIDNumber}

// Claim holds the attributes a user enters on the registration form.
type Claim struct {
	FirstName       string `json:"firstName" validate:"notblank"`
	LastName        string `json:"lastName" validate:"notblank"`
	Age             string `json:"age" validate:"notblank"`
	IDNumber        string `json:"idNumber" validate:"notblank"`
	Email           string `json:"email"`
	Password        string `json:"password,omitempty"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

// Public returns a copy without the password fields.
func (c Claim) Public() Claim {
	c.Password = ""
	c.ConfirmPassword = ""
	return c
}

func (c Claim) value(field string) string {
	switch field {
	case FieldFirstName:
		return c.FirstName
	case FieldLastName:
		return c.LastName
	case FieldAge:
		return c.Age
	case FieldIDNumber:
		return c.IDNumber
	default:
		return ""
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// MissingFields returns the verified fields the user left empty, in display order.
func MissingFields(c Claim) []string {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return VerifiedFields
	}

	missing := map[string]bool{}
	for _, fe := range validationErrs {
		missing[fe.Field()] = true
	}

	var fields []string
	for _, f := range VerifiedFields {
		if missing[f] {
			fields = append(fields, f)
		}
	}
	return fields
}
