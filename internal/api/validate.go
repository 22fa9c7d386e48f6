package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/altairalabs/finguard/internal/fgerr"
)

var validate = validator.New()

// validateStruct runs req's `validate` struct tags, wrapping any failure in
// fgerr.ErrInvalidInput so writeError maps it to 400 rather than 500.
func validateStruct(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", fgerr.ErrInvalidInput, err)
	}
	return nil
}
