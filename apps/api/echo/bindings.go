package echoapi

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

const filterParam = "filter"

// handleParams identifies the collection (and filter) a request targets.
type handleParams struct {
	Name   string `json:"collection" validate:"required,collection"`
	Filter string `json:"filter"`
}

func (p *handleParams) Bind(ctx echo.Context) error {
	err := echo.PathParamsBinder(ctx).String("name", &p.Name).BindError()
	if err != nil {
		return errors.Wrap(err, "binding path params")
	}
	return echo.QueryParamsBinder(ctx).String(filterParam, &p.Filter).BindError()
}

func (p handleParams) Handle(validate *validator.Validate, translator ut.Translator) (collection.Handle, error) {
	if err := validate.Struct(p); err != nil {
		return collection.Handle{}, core.TranslateErrors(err, translator)
	}
	name, err := collection.ParseName(p.Name)
	if err != nil {
		return collection.Handle{}, err
	}
	filter, err := collection.ParseFilter(p.Filter)
	if err != nil {
		return collection.Handle{}, err
	}
	return collection.Handle{Name: name, Filter: filter}, nil
}

// bindFields decodes the JSON object of the request body.
func bindFields(ctx echo.Context) (collection.Fields, error) {
	var flds collection.Fields
	if err := (&echo.DefaultBinder{}).BindBody(ctx, &flds); err != nil {
		return nil, err
	}
	if flds == nil {
		return nil, core.NewValidationError(errors.New("body must be a JSON object"))
	}
	return flds, nil
}
