package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate, trans, err := newValidator()
	if err != nil {
		return err
	}

	err = validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating configuration: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Translate(trans))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")

	if err := entranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, nil, fmt.Errorf("registering translations: %w", err)
	}

	if err := registerExclusive(validate, trans); err != nil {
		return nil, nil, err
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		const splitSize = 2

		name := strings.SplitN(fld.Tag.Get("label"), ",", splitSize)[0]
		if name == "" || name == "-" {
			return fld.Name
		}

		return name
	})

	return validate, trans, nil
}

// registerExclusive adds a validator ensuring two fields are not both set,
// together with its error message.
func registerExclusive(validate *validator.Validate, trans ut.Translator) error {
	if err := validate.RegisterValidation("exclusive", validateExclusive); err != nil {
		return fmt.Errorf("registering exclusive validation: %w", err)
	}

	err := validate.RegisterTranslation("exclusive", trans,
		func(t ut.Translator) error {
			return t.Add("exclusive", "{0} and {1} are mutually exclusive", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			other := fe.Param()
			if field, ok := reflect.TypeOf(Config{}).FieldByName(other); ok {
				if label := field.Tag.Get("label"); label != "" {
					other = label
				}
			}

			msg, _ := t.T("exclusive", fe.Field(), other)

			return msg
		},
	)
	if err != nil {
		return fmt.Errorf("registering exclusive translation: %w", err)
	}

	return nil
}

// validateExclusive fails when both the field and the named sibling are
// non-empty strings.
func validateExclusive(fl validator.FieldLevel) bool {
	field := fl.Field()
	other := fl.Parent().FieldByName(fl.Param())

	if !field.IsValid() || !other.IsValid() {
		return true
	}

	if field.Kind() == reflect.String && other.Kind() == reflect.String {
		return field.String() == "" || other.String() == ""
	}

	return true
}
