package util

import (
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/go-openapi/strfmt"
	"github.com/labstack/echo/v4"
)

// Validatable is implemented by request and response payloads that can
// check their own required fields.
type Validatable interface {
	Validate(formats strfmt.Registry) error
}

// BindAndValidateBody binds the request body into v and validates it,
// translating failures into public 400 errors.
func BindAndValidateBody(c echo.Context, v Validatable) error {
	if err := c.Bind(v); err != nil {
		return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, "Malformed request body")
	}

	if err := v.Validate(strfmt.Default); err != nil {
		return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, err.Error())
	}

	return nil
}

// ValidateAndReturn validates the response payload before writing it. A
// payload failing its own validation is a programming error and surfaces
// as a 500.
func ValidateAndReturn(c echo.Context, code int, v Validatable) error {
	if err := v.Validate(strfmt.Default); err != nil {
		return err
	}

	return c.JSON(code, v)
}

// IntPtr boxes an int as *int64 for response payloads.
func IntPtr(i int) *int64 {
	v := int64(i)
	return &v
}
