package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dash/core"
	"github.com/trezcool/masomo-dash/core/collection"
)

type collectionApi struct {
	svc        collection.Service
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

func registerCollectionAPI(
	g *echo.Group,
	svc collection.Service,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := collectionApi{
		svc:        svc,
		logger:     logger,
		validate:   validate,
		translator: translator,
	}

	cg := g.Group("/collections/:name")
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/feed", api.feed)

	// detail endpoints
	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PATCH("", api.update)
	dg.DELETE("", api.destroy)
}

func (api *collectionApi) handle(ctx echo.Context) (collection.Handle, error) {
	var params handleParams
	if err := params.Bind(ctx); err != nil {
		return collection.Handle{}, err
	}
	return params.Handle(api.validate, api.translator)
}

// Handlers

func (api *collectionApi) query(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}
	docs, err := api.svc.List(ctx.Request().Context(), h.Name, h.Filter)
	if err != nil {
		return errors.Wrapf(err, "listing %s", h.Name)
	}
	if docs == nil {
		docs = []collection.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *collectionApi) create(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}
	flds, err := bindFields(ctx)
	if err != nil {
		return err
	}
	id, err := api.svc.Create(ctx.Request().Context(), h.Name, flds)
	if err != nil {
		return errors.Wrapf(err, "creating %s", h.Name)
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"id": id})
}

func (api *collectionApi) retrieve(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}
	doc, err := api.svc.Get(ctx.Request().Context(), h.Name, ctx.Param("id"))
	if err != nil {
		return errors.Wrapf(err, "getting %s", h.Name)
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *collectionApi) update(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}
	flds, err := bindFields(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Update(ctx.Request().Context(), h.Name, ctx.Param("id"), flds); err != nil {
		return errors.Wrapf(err, "updating %s", h.Name)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *collectionApi) destroy(ctx echo.Context) error {
	h, err := api.handle(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), h.Name, ctx.Param("id")); err != nil {
		return errors.Wrapf(err, "deleting %s", h.Name)
	}
	return ctx.NoContent(http.StatusNoContent)
}
