// Package monitor 周期性输出服务状态
package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/model"
)

type StatusSource interface {
	Status() model.Status
	StoreConfigured() bool
}

type Heartbeat struct {
	spec    string
	source  StatusSource
	logger  *zap.Logger
	cron    *cron.Cron
	started time.Time
}

func NewHeartbeat(spec string, source StatusSource, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		spec:   spec,
		source: source,
		logger: logger,
	}
}

// Start 按 cron 表达式调度；spec 为空时什么都不做
func (h *Heartbeat) Start() error {
	if h.spec == "" {
		h.logger.Info("heartbeat disabled")
		return nil
	}

	logger := cron.PrintfLogger(zap.NewStdLog(h.logger))
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	if _, err := c.AddFunc(h.spec, h.beat); err != nil {
		return fmt.Errorf("schedule heartbeat %q: %w", h.spec, err)
	}

	h.started = time.Now()
	h.cron = c
	c.Start()
	h.logger.Info("heartbeat started", zap.String("spec", h.spec))
	return nil
}

// Stop 等待正在执行的任务结束
func (h *Heartbeat) Stop() {
	if h.cron == nil {
		return
	}
	<-h.cron.Stop().Done()
}

func (h *Heartbeat) beat() {
	h.logger.Info("heartbeat",
		zap.String("model_status", h.source.Status().ModelStatus()),
		zap.Bool("blob_storage_configured", h.source.StoreConfigured()),
		zap.Duration("uptime", time.Since(h.started).Truncate(time.Second)))
}
