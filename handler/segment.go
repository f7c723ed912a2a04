package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/imaging"
	"github.com/chaos-io/sam2seg/model"
	"github.com/chaos-io/sam2seg/segment"
)

const (
	msgNoImage  = "Please provide an image in the request"
	msgTooLarge = "Image too large. Maximum size is approximately 10MP"
	msgNoMask   = "No segmentation mask could be generated"
)

// ModelProvider 共享模型句柄
type ModelProvider interface {
	EnsureLoaded(ctx context.Context) model.Predictor
	Status() model.Status
	StoreConfigured() bool
}

type Segmenter interface {
	Segment(ctx context.Context, p model.Predictor, img *image.RGBA) (*image.RGBA, error)
}

type SegmentHandler struct {
	models  ModelProvider
	engine  Segmenter
	maxBody int64
	logger  *zap.Logger
}

func NewSegmentHandler(models ModelProvider, engine Segmenter, maxBody int64, logger *zap.Logger) *SegmentHandler {
	return &SegmentHandler{
		models:  models,
		engine:  engine,
		maxBody: maxBody,
		logger:  logger,
	}
}

// Preflight CORS 预检，不触碰模型
func (h *SegmentHandler) Preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Segment 抠图：返回背景置白的 JPEG
func (h *SegmentHandler) Segment(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while processing image", zap.Any("panic", r))
			c.String(http.StatusInternalServerError, "Error processing image: %v", r)
		}
	}()

	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}

	data, err := h.readImage(c)
	if err != nil {
		h.logger.Info("rejected oversized request body", zap.Error(err))
		c.String(http.StatusRequestEntityTooLarge, "Request body too large. Maximum size is %d bytes", h.maxBody)
		return
	}
	if len(data) == 0 {
		c.String(http.StatusBadRequest, msgNoImage)
		return
	}

	img, err := imaging.Decode(data)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		h.logger.Info("rejected oversized image", zap.Error(err))
		c.String(http.StatusBadRequest, msgTooLarge)
		return
	case err != nil:
		h.logger.Info("rejected undecodable image", zap.Error(err))
		c.String(http.StatusBadRequest, "Invalid image data: %s", decodeCause(err))
		return
	}

	ctx := c.Request.Context()
	p := h.models.EnsureLoaded(ctx)

	out, err := h.engine.Segment(ctx, p, img)
	if errors.Is(err, segment.ErrNoMask) {
		c.String(http.StatusBadRequest, msgNoMask)
		return
	}
	if err != nil {
		h.logger.Error("error processing image", zap.Error(err))
		c.String(http.StatusInternalServerError, "Error processing image: %v", err)
		return
	}

	buf, err := imaging.EncodeJPEG(out)
	if err != nil {
		h.logger.Error("error encoding image", zap.Error(err))
		c.String(http.StatusInternalServerError, "Error processing image: %v", err)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", buf)
}

// decodeCause 去掉 imaging 的哨兵前缀，只保留解码器给出的原因
func decodeCause(err error) string {
	return strings.TrimPrefix(err.Error(), imaging.ErrInvalidImage.Error()+": ")
}

type segmentRequest struct {
	Image *string `json:"image"`
}

// readImage 优先 multipart 的 image 字段，否则按 JSON {"image": base64} 解析
//
// 只有请求体超过上限时返回 error；其余情况取不到图片时返回 nil。
func (h *SegmentHandler) readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, err
			}
			h.logger.Info("multipart request has no image field", zap.Error(err))
			return nil, nil
		}
		data, err := readFormFile(fh)
		if err != nil {
			h.logger.Warn("failed to read uploaded image", zap.Error(err))
			return nil, nil
		}
		return data, nil
	}

	body, err := c.GetRawData()
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, err
		}
		h.logger.Warn("failed to read request body", zap.Error(err))
		return nil, nil
	}

	var req segmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Info("request body is not valid JSON", zap.Error(err))
		return nil, nil
	}
	if req.Image == nil {
		h.logger.Info("JSON body has no image field")
		return nil, nil
	}

	data, err := decodeBase64(*req.Image)
	if err != nil {
		h.logger.Info("image field is not valid base64", zap.Error(err))
		return nil, nil
	}
	return data, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

// decodeBase64 兼容 data URL 前缀和缺省 padding
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
