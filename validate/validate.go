package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jonwraymond/fetchcache/observe"
)

// ErrMissingParams is returned by Required when a field is missing.
var ErrMissingParams = errors.New("validate: missing required parameters")

// MissingError lists the fields that failed a Required check.
type MissingError struct {
	Fields []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingParams, strings.Join(e.Fields, ", "))
}

func (e *MissingError) Is(target error) bool { return target == ErrMissingParams }

// Validator reports missing parameters to a logger.
type Validator struct {
	logger observe.Logger
}

// NewValidator creates a Validator. A nil logger discards events.
func NewValidator(logger observe.Logger) *Validator {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Validator{logger: logger.With(observe.Field{Key: "component", Value: "validate"})}
}

// Validate reports whether every required field is present in params. It
// emits one error event per missing field and never fails otherwise.
func (v *Validator) Validate(ctx context.Context, params map[string]any, required ...string) bool {
	missing := Missing(params, required...)
	for _, name := range missing {
		v.logger.Error(ctx, "missing required parameter",
			observe.Field{Key: "field", Value: name},
		)
	}
	return len(missing) == 0
}

// Missing returns the required fields absent from params, in the order
// given. Repeated names are reported once.
func Missing(params map[string]any, required ...string) []string {
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		value, ok := params[name]
		if !ok || isEmpty(value) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Required returns a *MissingError matching ErrMissingParams when a field
// is missing.
func Required(params map[string]any, required ...string) error {
	if missing := Missing(params, required...); len(missing) > 0 {
		return &MissingError{Fields: missing}
	}
	return nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
