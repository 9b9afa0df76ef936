package intake

import (
	"io"

	echo "github.com/labstack/echo/v5"
)

func readBody(c *echo.Context) ([]byte, error) {
	defer func() { _ = c.Request().Body.Close() }()
	return io.ReadAll(c.Request().Body)
}
