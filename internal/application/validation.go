package application

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// validateParams checks validate tags on params and reports failures per field.
func validateParams(params any) *ValidationError {
	vErr := &ValidationError{}
	err := structValidator().Struct(params)
	if err == nil {
		return vErr
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		vErr.add("params", err.Error())
		return vErr
	}
	for _, fe := range fieldErrs {
		vErr.add(fieldName(fe.Namespace()), tagMessage(fe))
	}
	return vErr
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	}
	return "is invalid"
}

// fieldName turns "OccupyRoomParams.RoomID" into "room_id".
func fieldName(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	var b strings.Builder
	runes := []rune(namespace)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '.' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// validateDates checks that an interval is ordered and, when maxDuration is
// positive, not longer than it.
func validateDates(vErr *ValidationError, start time.Time, end *time.Time, maxDuration time.Duration) {
	if start.IsZero() {
		vErr.add("start_date", "is required")
		return
	}
	if end == nil {
		return
	}
	if !start.Before(*end) {
		vErr.add("end_date", "must be after start_date")
		return
	}
	if maxDuration > 0 && end.Sub(start) > maxDuration {
		vErr.add("end_date", fmt.Sprintf("occupation cannot exceed %s", maxDuration))
	}
}
