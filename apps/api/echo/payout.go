package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
)

const allStatuses = "all"

type payoutApi struct {
	svc      earning.PayoutService
	validate *validator.Validate
}

func registerPayoutAPI(g *echo.Group, auth echo.MiddlewareFunc, svc earning.PayoutService, validate *validator.Validate) {
	api := payoutApi{svc: svc, validate: validate}

	pg := g.Group("/admin/payouts", auth, adminMiddleware())
	pg.GET("", api.pending)
	pg.POST("", api.payout)
	pg.POST("/bulk", api.bulkPayout)
	pg.GET("/history", api.history)
	pg.GET("/balance", api.balance)
}

// pending lists the released earnings of every teacher, or of the teacher_id given.
func (api *payoutApi) pending(ctx echo.Context) error {
	teacherID := ctx.QueryParam("teacher_id")
	groups, err := api.svc.Pending(ctx.Request().Context(), teacherID)
	if err != nil {
		return errors.Wrap(err, "querying pending payouts")
	}

	if teacherID != "" {
		earnings := []earning.Earning{}
		if len(groups) > 0 {
			earnings = groups[0].Earnings
		}
		return ctx.JSON(http.StatusOK, echo.Map{"earnings": earnings})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"teachers": groups})
}

func (api *payoutApi) payout(ctx echo.Context) error {
	var data earning.PayoutRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}

	payout, err := api.svc.Payout(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "paying out")
	}
	return ctx.JSON(http.StatusOK, PayoutResponse{
		Success:      true,
		Message:      "Transfer initiated successfully",
		TransferCode: payout.TransferCode.String,
		Reference:    payout.Reference,
		Status:       payout.Status,
		Payout:       payout,
	})
}

func (api *payoutApi) bulkPayout(ctx echo.Context) error {
	res, err := api.svc.BulkPayout(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "bulk paying out")
	}
	code := http.StatusOK
	if res.Error != "" {
		code = http.StatusBadRequest
	}
	return ctx.JSON(code, res)
}

func (api *payoutApi) history(ctx echo.Context) error {
	var pagination Pagination
	pagination.Bind(ctx)

	query := earning.PayoutQuery{
		TeacherID: ctx.QueryParam("teacher_id"),
		Page:      pagination.Page,
	}
	if status := ctx.QueryParam("status"); status != allStatuses {
		query.Status = earning.PayoutStatus(status)
	}

	h, err := api.svc.History(ctx.Request().Context(), query)
	if err != nil {
		return errors.Wrap(err, "querying payout history")
	}
	return ctx.JSON(http.StatusOK, h)
}

func (api *payoutApi) balance(ctx echo.Context) error {
	balance, err := api.svc.Balance(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "checking balance")
	}
	return ctx.JSON(http.StatusOK, BalanceResponse{Balance: balance, Currency: core.Currency, Available: balance})
}

type (
	PayoutResponse struct {
		Success      bool                 `json:"success"`
		Message      string               `json:"message"`
		TransferCode string               `json:"transfer_code"`
		Reference    string               `json:"reference"`
		Status       earning.PayoutStatus `json:"status"`
		Payout       earning.Payout       `json:"payout"`
	}

	BalanceResponse struct {
		Balance   core.Money `json:"balance"`
		Currency  string     `json:"currency"`
		Available core.Money `json:"available"`
	}
)
