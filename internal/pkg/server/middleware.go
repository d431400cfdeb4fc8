package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func LoggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	logger := zap.L()
	return func(c echo.Context) error {
		start := time.Now()
		if origin := c.Request().Header.Get("Origin"); origin != "" {
			c.Response().Header().Set("Access-Control-Allow-Origin", origin)
		}
		if err := next(c); err != nil {
			c.Error(err)
		}
		logger.Info(c.Request().RequestURI,
			zap.String("method", c.Request().Method),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}
