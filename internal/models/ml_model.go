package models

import (
	"time"

	"github.com/google/uuid"
)

type MLModel struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ArtifactKey string    `json:"artifact_key"`
	TemplateKey *string   `json:"template_key,omitempty"`
	IsActive    bool      `json:"is_active"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}
