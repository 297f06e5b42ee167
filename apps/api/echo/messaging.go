package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core/messaging"
)

type messagingApi struct {
	svc      messaging.Service
	validate *validator.Validate
}

func registerMessagingAPI(g *echo.Group, auth echo.MiddlewareFunc, svc messaging.Service, validate *validator.Validate) {
	api := messagingApi{svc: svc, validate: validate}

	cg := g.Group("/conversations", auth)
	cg.GET("", api.conversations)
	cg.POST("", api.open)
	cg.GET("/:id/messages", api.messages)
	cg.POST("/:id/messages", api.send)
}

func (api *messagingApi) conversations(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	convs, err := api.svc.Conversations(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "listing conversations")
	}
	return ctx.JSON(http.StatusOK, convs)
}

func (api *messagingApi) open(ctx echo.Context) error {
	var data messaging.OpenConversation
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	conv, err := api.svc.Open(ctx.Request().Context(), usr, data.UserID)
	if err != nil {
		return errors.Wrap(err, "opening conversation")
	}
	return ctx.JSON(http.StatusOK, conv)
}

func (api *messagingApi) messages(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	msgs, err := api.svc.List(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) send(ctx echo.Context) error {
	var data messaging.NewMessage
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	msg, err := api.svc.Send(ctx.Request().Context(), usr, ctx.Param("id"), data.Content)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}
