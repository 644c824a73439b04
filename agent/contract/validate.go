package contract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// placeholderPattern matches template residue a model sometimes returns
// instead of finished copy.
var placeholderPattern = regexp.MustCompile(`(?i)(\[(insert|your|name|company|contact|first name)[^\]]*\]|\{\{[^}]*\}\}|<[a-z _]*name>|lorem ipsum|\btbd\b|\bplaceholder\b)`)

// Validator returns the shared validator instance with custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("noplaceholder", validateNoPlaceholder)
	})
	return validate
}

func validateNoPlaceholder(fl validator.FieldLevel) bool {
	text := strings.TrimSpace(fl.Field().String())
	if text == "" {
		return true
	}
	return !placeholderPattern.MatchString(text)
}

// ValidateOutput runs struct tag validation on a parsed model response.
func ValidateOutput(v any) error {
	if err := Validator().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}
