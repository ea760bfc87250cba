package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/modelgate/backend/internal/services"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService *services.WalletService
	log           *zap.Logger
}

func NewWalletHandler(walletService *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, log: log}
}

// IssueNonce creates a sign-in challenge.
// POST /auth/nonce
func (h *WalletHandler) IssueNonce(c *fiber.Ctx) error {
	var req dto.NonceRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := dto.Validate(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "address must be a 0x-prefixed 20 byte hex address")
	}

	addr, err := evm.ParseAddress(req.Address)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	challenge, err := h.walletService.IssueNonce(c.UserContext(), addr)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(challenge)
}

// SignIn verifies the signed challenge and returns a session token.
// POST /auth/wallet
func (h *WalletHandler) SignIn(c *fiber.Ctx) error {
	var req dto.WalletSignInRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := dto.Validate(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "address, nonce and signature are required")
	}

	addr, err := evm.ParseAddress(req.Address)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.walletService.SignIn(c.UserContext(), addr, req.Nonce, req.Signature)
	switch {
	case errors.Is(err, repositories.ErrNonceNotUsable):
		return errorJSON(c, fiber.StatusUnauthorized, "nonce expired or already used")
	case errors.Is(err, services.ErrInvalidSignature):
		return errorJSON(c, fiber.StatusUnauthorized, "signature does not match address")
	case err != nil:
		return serviceError(c, h.log, err)
	}

	return c.JSON(dto.AuthResponse{
		Token: res.Token,
		User:  res.User,
	})
}
