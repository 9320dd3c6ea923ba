package middleware

import (
	"time"

	"GammaScalp/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every request at debug level and client errors at warn.
func RequestLogging(lgr *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Duration("latency", time.Since(start)),
			}
			if res.Status >= 400 && res.Status < 500 {
				lgr.Warn("http request", fields...)
			} else {
				lgr.Debug("http request", fields...)
			}
			return nil
		}
	}
}
