package echoapi

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/steamspark/spark/core"
)

const (
	pageParam  = "page"
	limitParam = "limit"
)

var errMalformedBody = core.NewValidationError(errors.New("malformed request body"))

// bindAndValidate binds the request body to data and validates it.
func bindAndValidate(ctx echo.Context, validate *validator.Validate, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		if _, ok := err.(*echo.HTTPError); ok {
			return errMalformedBody
		}
		return errors.Wrap(err, "binding request")
	}
	return validate.Struct(data)
}

type Pagination struct {
	Page core.Page
}

// Bind reads the page window from the query string. Invalid values are ignored.
func (p *Pagination) Bind(ctx echo.Context) {
	if n, err := strconv.Atoi(ctx.QueryParam(pageParam)); err == nil {
		p.Page.Number = n
	}
	if n, err := strconv.Atoi(ctx.QueryParam(limitParam)); err == nil {
		p.Page.Size = n
	}
}
