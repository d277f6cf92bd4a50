package shared

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FromValidator converts the first validator field error into a ValidationError.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return NewValidationError(strings.ToLower(fe.Field()), reason)
	}
	return NewValidationError("", err.Error())
}
