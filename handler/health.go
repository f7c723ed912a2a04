package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const serviceName = "SAM2 Segmentation"

type HealthResponse struct {
	Status                string `json:"status"`
	Service               string `json:"service"`
	ModelStatus           string `json:"model_status"`
	BlobStorageConfigured bool   `json:"blob_storage_configured"`
}

type HealthHandler struct {
	models ModelProvider
}

func NewHealthHandler(models ModelProvider) *HealthHandler {
	return &HealthHandler{models: models}
}

// Health 总是 200；首次调用会触发模型加载
func (h *HealthHandler) Health(c *gin.Context) {
	h.models.EnsureLoaded(c.Request.Context())

	c.JSON(http.StatusOK, HealthResponse{
		Status:                "healthy",
		Service:               serviceName,
		ModelStatus:           h.models.Status().ModelStatus(),
		BlobStorageConfigured: h.models.StoreConfigured(),
	})
}
