package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/user"
)

type bookingApi struct {
	svc      booking.Service
	validate *validator.Validate
}

func registerBookingAPI(g *echo.Group, auth echo.MiddlewareFunc, svc booking.Service, validate *validator.Validate) {
	api := bookingApi{svc: svc, validate: validate}

	bg := g.Group("/bookings", auth)
	bg.POST("", api.create, roleMiddleware(user.RoleParent))
	bg.GET("/:id", api.retrieve)
	bg.POST("/:id/accept", api.accept, roleMiddleware(user.RoleTeacher))
	bg.POST("/:id/decline", api.decline, roleMiddleware(user.RoleTeacher))

	g.POST("/sessions/:id/complete", api.completeSession, auth, roleMiddleware(user.RoleTeacher))
}

// Handlers

func (api *bookingApi) create(ctx echo.Context) error {
	var data booking.NewBooking
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	b, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating booking")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *bookingApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	b, err := api.svc.Get(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting booking")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) accept(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	b, err := api.svc.Accept(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "accepting booking")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) decline(ctx echo.Context) error {
	var data DeclineRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	b, err := api.svc.Decline(ctx.Request().Context(), usr, ctx.Param("id"), data.Reason)
	if err != nil {
		return errors.Wrap(err, "declining booking")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) completeSession(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.CompleteSession(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "completing session")
	}
	return ctx.JSON(http.StatusOK, s)
}

type DeclineRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}
