package types

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

const identifierTag = "identifier"

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names so errors match what clients sent
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(identifierTag, func(fl validator.FieldLevel) bool {
		return IsValidIdentifier(fl.Field().String())
	})
	_ = validate.RegisterTranslation(identifierTag, translator,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fmt.Sprintf("%s must be 1-128 characters of letters, digits, '.', '_', ':' or '-'", fe.Field())
		})
}

// ValidationError carries one translated message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ValidateStruct runs tag validation and converts failures into a ValidationError.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(translator)
	}
	return &ValidationError{Fields: fields}
}

// IsValidationError reports whether err came from ValidateStruct.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsValidIdentifier checks session ids, account ids and other opaque keys
// FUNCTIONAL DISCOVERY: 128 character cap keeps ids usable as NATS subject
// tokens and database keys
func IsValidIdentifier(id string) bool {
	if len(id) < 1 || len(id) > 128 {
		return false
	}
	return identifierRegex.MatchString(id)
}

// IsValidRole checks the participant role enumeration.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}
