package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core/user"
)

type userApi struct {
	svc      user.Service
	validate *validator.Validate
}

func registerUserAPI(g *echo.Group, auth echo.MiddlewareFunc, svc user.Service, validate *validator.Validate) {
	api := userApi{svc: svc, validate: validate}

	mg := g.Group("/me", auth)
	mg.GET("", api.me)
	mg.PUT("/payout-details", api.updatePayoutDetails, roleMiddleware(user.RoleTeacher))
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) updatePayoutDetails(ctx echo.Context) error {
	var data user.UpdatePayoutDetails
	if err := ctx.Bind(&data); err != nil {
		return errMalformedBody
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	usr, err = api.svc.UpdatePayoutDetails(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating payout details")
	}
	return ctx.JSON(http.StatusOK, usr)
}
