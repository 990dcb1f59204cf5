package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

// bcrypt ignores everything past 72 bytes and rejects longer input
const maxPasswordBytes = 72

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names so messages match the request body
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateInput runs the validate tags of in and reports the first failure as a BadRequest
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperrors.NewBadRequest("invalid request")
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return apperrors.NewBadRequest(fmt.Sprintf("%s is required", fe.Field()))
	case "email":
		return apperrors.NewBadRequest(fmt.Sprintf("%s must be a valid email address", fe.Field()))
	case "min":
		return apperrors.NewBadRequest(fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
	case "max":
		return apperrors.NewBadRequest(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	case "eqfield":
		return apperrors.NewBadRequest(fmt.Sprintf("%s must match %s", fe.Field(), strings.ToLower(fe.Param())))
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("%s is invalid", fe.Field()))
	}
}
