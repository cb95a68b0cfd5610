// Package errors derives metric-safe tags from Go errors.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/mediaforge/transcoder/internal/errors"
)

// Classify returns a normalized error class suitable for tagging metrics and
// logs. Application errors classify by their code; anything else falls back
// to the innermost concrete type name, snake_cased.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return typeName(innermost(err))
}

// innermost follows the Unwrap chain to the root cause, which carries the
// most specific type information.
func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.NewReplacer("*", "", ".", "_").Replace(t.String())
	if name = strings.ToLower(name); name == "" {
		return "unknown"
	}
	return name
}
