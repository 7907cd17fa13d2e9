package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with the custom tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// money: a non-negative decimal string with at most two fractional digits.
	_ = v.RegisterValidation("money", moneyValidation)
	v.RegisterStructValidation(createProductStructValidation, CreateProductRequest{})

	return v
}

func moneyValidation(fl validatorv10.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return !d.IsNegative() && d.Exponent() >= -2
}

// createProductStructValidation rejects names made only of whitespace.
func createProductStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateProductRequest)
	if req.Name != "" && strings.TrimSpace(req.Name) == "" {
		sl.ReportError(req.Name, "name", "Name", "not_blank", "")
	}
}
