// Package validation wraps go-playground/validator with json field names,
// project-specific rules and readable messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"learngraph/domain/core/valueobjects"
)

// FieldError is one failed rule
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Errors aggregates every failed rule of one struct
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Validator validates structs by their tags
type Validator struct {
	validate *validator.Validate
}

var (
	instance *Validator
	once     sync.Once
)

// Default returns the shared validator
func Default() *Validator {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a validator with the custom rules registered
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nodeid", func(fl validator.FieldLevel) bool {
		_, err := valueobjects.NewNodeIDFromString(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		_, err := valueobjects.ParseNodeType(fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// Struct validates s and returns Errors when any rule fails
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe),
			Message: message(fe.Tag(), fe.Param()),
			Code:    strings.ToUpper(fe.Tag()),
		})
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", param)
	case "min":
		return fmt.Sprintf("must be at least %s", param)
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", param)
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", param)
	case "nefield":
		return fmt.Sprintf("must differ from %s", param)
	case "nodeid":
		return "must be a valid node id"
	case "nodetype":
		return "must be a valid node type"
	case "datetime":
		return fmt.Sprintf("must match %s", param)
	default:
		return fmt.Sprintf("failed %s validation", tag)
	}
}
