package collection

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-dash/core"
)

var (
	collectionTag  = "collection"
	collectionText = "unknown collection"

	operatorTag  = "operator"
	operatorText = "unsupported operator"

	validate, translator = newValidator()
)

func newValidator() (*validator.Validate, ut.Translator) {
	v, t := core.NewValidator()
	RegisterValidators(v, t)
	return v, t
}

// RegisterValidators registers the collection specific validation tags on validate.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(collectionTag, collectionValidation)
	core.RegisterCustomTranslation(validate, translator, collectionTag, collectionText)

	_ = validate.RegisterValidation(operatorTag, operatorValidation)
	core.RegisterCustomTranslation(validate, translator, operatorTag, operatorText)
}

func collectionValidation(fl validator.FieldLevel) bool {
	return Name(fl.Field().String()).IsValid()
}

func operatorValidation(fl validator.FieldLevel) bool {
	return Operator(fl.Field().String()).IsValid()
}
