package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/middleware"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/modelgate/backend/internal/services"
	"github.com/modelgate/backend/internal/storage"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with 503 when the chain could not be asked.
const retryAfterSeconds = "5"

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

// serviceError maps service errors to responses. Anything unknown is logged
// and answered with 500.
func serviceError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var pr *services.PaymentRequiredError
	switch {
	case errors.As(err, &pr):
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.PaymentRequiredResponse{
			Error:           "payment required",
			Reason:          pr.Decision.Reason,
			TransactionHash: pr.Decision.TransactionHash,
			GateEnabled:     pr.Decision.GateEnabled,
			RequestID:       middleware.GetRequestID(c),
		})
	case errors.Is(err, services.ErrCannotVerify):
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		return errorJSON(c, fiber.StatusServiceUnavailable, "payment cannot be verified right now, try again")
	case errors.Is(err, services.ErrNoActiveModel):
		return errorJSON(c, fiber.StatusNotFound, "no active model")
	case errors.Is(err, services.ErrTemplateNotFound), errors.Is(err, storage.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "template not found")
	case errors.Is(err, repositories.ErrModelNotFound):
		return errorJSON(c, fiber.StatusNotFound, "model not found")
	case errors.Is(err, repositories.ErrUserNotFound):
		return errorJSON(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrInvalidUpload):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInferenceUnavailable):
		log.Warn("inference unavailable", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		return errorJSON(c, fiber.StatusBadGateway, "inference service unavailable")
	default:
		log.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.Path()),
			zap.String("wallet", middleware.GetWallet(c).String()),
			zap.Error(err),
		)
		return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// ErrorHandler is the fiber app error handler.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return errorJSON(c, fe.Code, fe.Message)
		}
		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
	}
}
