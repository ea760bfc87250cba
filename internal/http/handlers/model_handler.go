package handlers

import (
	"errors"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/http/dto"
	"github.com/modelgate/backend/internal/middleware"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/modelgate/backend/internal/services"
	"go.uber.org/zap"
)

type ModelHandler struct {
	modelService   *services.ModelService
	maxUploadBytes int
	log            *zap.Logger
}

func NewModelHandler(modelService *services.ModelService, maxUploadBytes int, log *zap.Logger) *ModelHandler {
	return &ModelHandler{modelService: modelService, maxUploadBytes: maxUploadBytes, log: log}
}

// GetActive returns the model predictions currently run against.
// GET /models/active
func (h *ModelHandler) GetActive(c *fiber.Ctx) error {
	m, err := h.modelService.GetActive(c.UserContext())
	if errors.Is(err, repositories.ErrModelNotFound) {
		err = services.ErrNoActiveModel
	}
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: m})
}

// Upload stores a new model from a multipart form with fields name,
// description, artifact (file) and template (optional file).
// POST /admin/models
func (h *ModelHandler) Upload(c *fiber.Ctx) error {
	artifactHeader, err := c.FormFile("artifact")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "artifact file is required")
	}
	artifact, err := h.readUpload(artifactHeader)
	if err != nil {
		return err
	}

	in := services.UploadModelInput{
		Name:        c.FormValue("name"),
		Description: c.FormValue("description"),
		Artifact:    *artifact,
	}

	if tmplHeader, err := c.FormFile("template"); err == nil {
		tmpl, err := h.readUpload(tmplHeader)
		if err != nil {
			return err
		}
		in.Template = tmpl
	}

	m, err := h.modelService.Upload(c.UserContext(), middleware.GetUserID(c), in)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: m})
}

// readUpload returns *fiber.Error values so the app error handler picks the
// status.
func (h *ModelHandler) readUpload(fh *multipart.FileHeader) (*services.UploadFile, error) {
	if h.maxUploadBytes > 0 && fh.Size > int64(h.maxUploadBytes) {
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, fh.Filename+" is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "cannot read "+fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "cannot read "+fh.Filename)
	}
	return &services.UploadFile{Filename: fh.Filename, Data: data}, nil
}

// List returns uploaded models.
// GET /admin/models?limit=&offset=
func (h *ModelHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := h.modelService.List(c.UserContext(), limit, c.QueryInt("offset", 0))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	if list == nil {
		list = []models.MLModel{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

// Activate makes a model the active one.
// POST /admin/models/:id/activate
func (h *ModelHandler) Activate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid model id")
	}
	m, err := h.modelService.Activate(c.UserContext(), middleware.GetUserID(c), id)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: m})
}
