package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/models"
	"go.uber.org/zap"
)

type AuditReader interface {
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

type AuditHandler struct {
	audit AuditReader
	log   *zap.Logger
}

func NewAuditHandler(audit AuditReader, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// List returns the audit trail of one entity, newest first.
// GET /admin/audit/:entityType/:entityId?limit=&offset=
func (h *AuditHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := h.audit.GetByEntity(c.UserContext(), c.Params("entityType"), c.Params("entityId"), limit, c.QueryInt("offset", 0))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
