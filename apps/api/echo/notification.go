package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core/notification"
)

type notificationApi struct {
	svc      notification.Service
	validate *validator.Validate
}

func registerNotificationAPI(g *echo.Group, auth echo.MiddlewareFunc, svc notification.Service, validate *validator.Validate) {
	api := notificationApi{svc: svc, validate: validate}

	ng := g.Group("/notifications", auth)
	ng.GET("", api.query)
	ng.POST("/read", api.markRead)
	ng.POST("/whatsapp", api.sendWhatsApp, adminMiddleware())
}

func (api *notificationApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	unreadOnly, _ := strconv.ParseBool(ctx.QueryParam("unread"))

	ns, err := api.svc.List(ctx.Request().Context(), usr, unreadOnly)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	return ctx.JSON(http.StatusOK, ns)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	var data MarkReadRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	cnt, err := api.svc.MarkRead(ctx.Request().Context(), usr, data.IDs)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, MarkReadResponse{Updated: cnt})
}

func (api *notificationApi) sendWhatsApp(ctx echo.Context) error {
	var data SendWhatsAppRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}

	receipt, err := api.svc.SendWhatsApp(ctx.Request().Context(), data.To, data.WhatsAppMessage)
	if err != nil {
		return errors.Wrap(err, "sending WhatsApp message")
	}
	return ctx.JSON(http.StatusOK, SendWhatsAppResponse{Success: true, WhatsAppReceipt: receipt})
}

type (
	// MarkReadRequest lists the notifications to mark read. No ids marks them all.
	MarkReadRequest struct {
		IDs []string `json:"ids" validate:"omitempty,dive,uuid"`
	}

	MarkReadResponse struct {
		Updated int `json:"updated"`
	}

	SendWhatsAppRequest struct {
		To string `json:"to" validate:"required,phone"`
		notification.WhatsAppMessage
	}

	SendWhatsAppResponse struct {
		Success bool `json:"success"`
		notification.WhatsAppReceipt
	}
)
