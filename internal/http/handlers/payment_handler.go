package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/middleware"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/services"
	"go.uber.org/zap"
)

const HeaderTransactionHash = middleware.HeaderTransactionHash

type PaymentHandler struct {
	predictions *services.PredictionService
	status      *services.StatusReporter
	log         *zap.Logger
}

func NewPaymentHandler(predictions *services.PredictionService, status *services.StatusReporter, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{predictions: predictions, status: status, log: log}
}

type paidRun func(ctx context.Context, caller services.Caller, claimedHash string, features json.RawMessage) (*services.PredictionResult, error)

func callerOf(c *fiber.Ctx) services.Caller {
	return services.Caller{UserID: middleware.GetUserID(c), Wallet: middleware.GetWallet(c)}
}

// claimedHash reads the optional transaction hash header. ok is false when
// the header is present but malformed.
func claimedHash(c *fiber.Ctx) (string, bool) {
	hash := strings.TrimSpace(c.Get(HeaderTransactionHash))
	if err := dto.ValidateTxHash(hash); err != nil {
		return "", false
	}
	return hash, true
}

// Predict runs a paid prediction against the active model.
// POST /prediction
func (h *PaymentHandler) Predict(c *fiber.Ctx) error {
	return h.runPaid(c, h.predictions.Predict)
}

// EDAReport runs a paid EDA report.
// POST /eda/report
func (h *PaymentHandler) EDAReport(c *fiber.Ctx) error {
	return h.runPaid(c, h.predictions.EDAReport)
}

func (h *PaymentHandler) runPaid(c *fiber.Ctx, run paidRun) error {
	hash, ok := claimedHash(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "invalid "+HeaderTransactionHash+" header")
	}

	var req dto.PredictionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := dto.Validate(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "features are required")
	}

	res, err := run(c.UserContext(), callerOf(c), hash, req.Features)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: res})
}

// PredictionStatus reports whether the caller can run predictions now.
// GET /payment/status
func (h *PaymentHandler) PredictionStatus(c *fiber.Ctx) error {
	return h.statusFor(c, models.CategoryPrediction)
}

// EDAStatus is PredictionStatus for EDA reports.
// GET /eda/payment/status
func (h *PaymentHandler) EDAStatus(c *fiber.Ctx) error {
	return h.statusFor(c, models.CategoryEDA)
}

func (h *PaymentHandler) statusFor(c *fiber.Ctx, category string) error {
	st, err := h.status.GetStatus(c.UserContext(), category, middleware.GetWallet(c))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(st)
}

// DownloadTemplate streams the active model's feature template.
// GET /models/active/template
func (h *PaymentHandler) DownloadTemplate(c *fiber.Ctx) error {
	hash, ok := claimedHash(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "invalid "+HeaderTransactionHash+" header")
	}

	tmpl, err := h.predictions.DownloadTemplate(c.UserContext(), callerOf(c), hash)
	if err != nil {
		return serviceError(c, h.log, err)
	}

	c.Attachment(tmpl.Name)
	return c.SendStream(tmpl.Body)
}

// ListPredictions returns the caller's own grants, newest first.
// GET /predictions?category=&limit=&offset=
func (h *PaymentHandler) ListPredictions(c *fiber.Ctx) error {
	category := c.Query("category")
	if category != "" && !models.IsValidCategory(category) {
		return errorJSON(c, fiber.StatusBadRequest, "unknown category")
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	list, err := h.predictions.ListPredictions(c.UserContext(), middleware.GetUserID(c), category, limit, offset)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	if list == nil {
		list = []models.Grant{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}
