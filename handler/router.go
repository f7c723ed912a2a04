package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/middleware"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

type RouterOptions struct {
	Models  ModelProvider
	Engine  Segmenter
	MaxBody int64
	Build   BuildInfo
	Logger  *zap.Logger
}

func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.CORS())

	seg := NewSegmentHandler(opts.Models, opts.Engine, opts.MaxBody, opts.Logger)
	health := NewHealthHandler(opts.Models)

	r.POST("/sam2-segment", seg.Segment)
	r.OPTIONS("/sam2-segment", seg.Preflight)
	r.GET("/health", health.Health)
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, opts.Build)
	})

	return r
}
