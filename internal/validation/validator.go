package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	v.RegisterStructValidation(loginStructValidation, LoginRequest{})

	return v
}

// checkoutStructValidation rejects a product name made only of whitespace.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)
	if req.ProductName != "" && strings.TrimSpace(req.ProductName) == "" {
		sl.ReportError(req.ProductName, "productName", "ProductName", "not_blank", "")
	}
}

func loginStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(LoginRequest)
	if req.Email != "" && strings.TrimSpace(req.Email) == "" {
		sl.ReportError(req.Email, "email", "Email", "not_blank", "")
	}
}
