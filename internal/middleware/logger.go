package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HeaderTransactionHash carries the hash of a payment the caller just made.
const HeaderTransactionHash = "X-Transaction-Hash"

// LoggerMiddleware writes one access log line per request. Server errors are
// logged at error level, everything else at info; 402 is an expected answer.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// the app error handler has not written the response yet
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		// set by AuthMiddleware, which runs after this one
		if w := GetWallet(c); w != "" {
			fields = append(fields, zap.String("wallet", w.String()))
		}
		if h := c.Get(HeaderTransactionHash); h != "" {
			fields = append(fields, zap.String("tx_hash", h))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}

		level := zapcore.InfoLevel
		if status >= fiber.StatusInternalServerError {
			level = zapcore.ErrorLevel
		}
		if ce := log.Check(level, "request"); ce != nil {
			ce.Write(fields...)
		}

		return err
	}
}
