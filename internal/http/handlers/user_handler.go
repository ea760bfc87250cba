package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/middleware"
	"github.com/modelgate/backend/internal/services"
	"go.uber.org/zap"
)

type UserHandler struct {
	walletService *services.WalletService
	log           *zap.Logger
}

func NewUserHandler(walletService *services.WalletService, log *zap.Logger) *UserHandler {
	return &UserHandler{walletService: walletService, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := h.walletService.GetUser(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}
