package echoapi

import (
	"io"
	"io/ioutil"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
)

const (
	signatureHeader = "x-paystack-signature"
	maxWebhookBody  = 1 << 20
)

type paymentApi struct {
	svc      payment.Service
	validate *validator.Validate
}

func registerPaymentAPI(g *echo.Group, auth echo.MiddlewareFunc, svc payment.Service, validate *validator.Validate) {
	api := paymentApi{svc: svc, validate: validate}

	pg := g.Group("/payments")

	// gateway callbacks
	pg.GET("/verify", api.verify)
	pg.POST("/webhook", api.webhook)

	pg.POST("/initialize", api.initialize, auth, roleMiddleware(user.RoleParent))
}

func (api *paymentApi) initialize(ctx echo.Context) error {
	var data payment.InitializePayment
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	checkout, err := api.svc.Initialize(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "initializing payment")
	}
	return ctx.JSON(http.StatusOK, checkout)
}

func (api *paymentApi) verify(ctx echo.Context) error {
	res, err := api.svc.Verify(ctx.Request().Context(), ctx.QueryParam("reference"))
	if err != nil {
		return errors.Wrap(err, "verifying payment")
	}
	return ctx.JSON(http.StatusOK, res)
}

// webhook receives the gateway events. The signature is computed over the raw body.
func (api *paymentApi) webhook(ctx echo.Context) error {
	body, err := ioutil.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
	if err != nil {
		return errors.Wrap(err, "reading webhook body")
	}
	if err := api.svc.HandleWebhook(ctx.Request().Context(), body, ctx.Request().Header.Get(signatureHeader)); err != nil {
		return errors.Wrap(err, "handling webhook")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}
