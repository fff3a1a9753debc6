package users

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Credentials is the login form shape shared by the HTTP handler and the
// CLI.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=30,username"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// FieldError reports the first invalid field of a credentials form.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks c and returns a *FieldError for the first failing field.
// Length limits count characters, not bytes.
func (c Credentials) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	return &FieldError{Field: first.Field(), Message: fieldMessage(first)}
}

const (
	msgUsernameLength  = "Username muss zwischen 3-30 Zeichen haben"
	msgUsernameInvalid = "Username enthält ungültige Zeichen"
	msgPasswordLength  = "Passwort muss zwischen 8-128 Zeichen haben"
)

func fieldMessage(fe validator.FieldError) string {
	if fe.Field() != "username" {
		return msgPasswordLength
	}
	switch fe.Tag() {
	case "required", "min", "max":
		return msgUsernameLength
	default:
		return msgUsernameInvalid
	}
}

// ValidateCredentials validates a username/password pair.
func ValidateCredentials(username, password string) error {
	return Credentials{Username: username, Password: password}.Validate()
}
