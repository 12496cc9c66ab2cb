package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402kit/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("caip2", validateCAIP2Tag)
	_ = validate.RegisterValidation("amount", validateAmountTag)
	_ = validate.RegisterValidation("payaddress", validateAddressTag)
}

// ValidateStruct runs struct-tag validation and reports failures as CONFIG_ERROR.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
			Cause:   err,
		}
	}
	return nil
}

func validateCAIP2Tag(fl validator.FieldLevel) bool {
	_, err := types.ParseCAIP2(fl.Field().String())
	return err == nil
}

func validateAmountTag(fl validator.FieldLevel) bool {
	_, err := ValidateAmount(fl.Field().String())
	return err == nil
}

func validateAddressTag(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	return IsEVMAddress(addr) || IsSolanaAddress(addr)
}
