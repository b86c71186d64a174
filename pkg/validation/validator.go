// Package validation holds the shared go-playground/validator instance and
// the custom tags used by link requests and configuration.
//
//	type CreateLinkRequest struct {
//	    URL  string `json:"url" validate:"required,httpurl"`
//	    Code string `json:"code" validate:"omitempty,shortcode"`
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

var (
	// httpURLPattern accepts http/https with a domain name, localhost or a
	// dotted-quad host, an optional port and an optional path or query.
	// The path must be printable ASCII; non-ASCII segments are escaped first.
	httpURLPattern = regexp.MustCompile(
		`(?i)^https?://` +
			`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|` +
			`localhost|` +
			`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
			`(?::\d+)?` +
			`(?:/?|[/?][!-~]+)$`)

	shortCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Get returns the singleton validator.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
			return IsHTTPURL(fl.Field().String())
		})
		_ = validate.RegisterValidation("shortcode", func(fl validator.FieldLevel) bool {
			return IsShortCode(fl.Field().String())
		})
	})
	return validate
}

func IsHTTPURL(s string) bool {
	return httpURLPattern.MatchString(s)
}

func IsShortCode(s string) bool {
	return shortCodePattern.MatchString(s)
}

// Struct validates s and returns the first failure as a
// *domain.ValidationError, or nil.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("", err.Error())
	}
	fe := verrs[0]
	return domain.NewValidationError(fe.Field(), translate(fe))
}

var messages = map[string]string{
	"required":  "%s is required",
	"httpurl":   "%s must be a valid http or https URL",
	"shortcode": "%s must be 3-20 characters of letters, digits, '_' or '-'",
	"url":       "%s must be a valid URL",
}

var messagesWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translate(fe validator.FieldError) string {
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
