package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultLoadTimeout = 5 * time.Minute

// Builder 用配置和权重构建推理实例
type Builder func(cfg *ModelConfig, weights *Weights) (Inference, error)

// Loader 进程内唯一的模型句柄
//
// EnsureLoaded 是幂等且并发安全的：并发的首次调用只会触发一次加载，
// 加载失败会永久降级为 Mock，之后不再重试。
type Loader struct {
	source     Source
	open       Opener
	build      Builder
	candidates []ArtifactPair
	timeout    time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	state     atomic.Int32
	predictor Predictor
}

type Option func(*Loader)

func WithOpener(open Opener) Option {
	return func(l *Loader) { l.open = open }
}

func WithBuilder(build Builder) Option {
	return func(l *Loader) { l.build = build }
}

func WithCandidates(candidates []ArtifactPair) Option {
	return func(l *Loader) { l.candidates = candidates }
}

func WithLoadTimeout(timeout time.Duration) Option {
	return func(l *Loader) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

func NewLoader(source Source, logger *zap.Logger, opts ...Option) *Loader {
	l := &Loader{
		source:     source,
		open:       OpenStore,
		build:      NewONNXBuilder(RuntimeOptions{}),
		candidates: Candidates,
		timeout:    defaultLoadTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Status 当前状态，不会触发加载
func (l *Loader) Status() Status {
	return Status(l.state.Load())
}

// StoreConfigured 是否配置了制品存储
func (l *Loader) StoreConfigured() bool {
	return l.source.Configured()
}

// EnsureLoaded 返回可用的 Predictor，首次调用时完成加载
func (l *Loader) EnsureLoaded(ctx context.Context) Predictor {
	if l.ready() {
		return l.predictor
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready() {
		return l.predictor
	}

	l.state.Store(int32(StatusLoading))
	p := l.load(ctx)
	l.predictor = p
	l.state.Store(int32(p.status()))

	l.logger.Info("model ready", zap.String("model_status", p.status().ModelStatus()))
	return p
}

func (l *Loader) ready() bool {
	s := l.Status()
	return s == StatusReadyMock || s == StatusReadyReal
}

func (l *Loader) load(ctx context.Context) (p Predictor) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("model loading panicked, using mock model", zap.Any("panic", r))
			p = Mock{}
		}
	}()

	if !l.source.Configured() {
		l.logger.Info("no blob storage configured, using mock model for development")
		return Mock{}
	}

	l.logger.Info("loading model from artifact store", zap.String("container", l.source.Container))

	// 首次加载不跟随请求取消
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	loaded, err := l.loadReal(ctx)
	if err != nil {
		l.logger.Error("model loading failed, using mock model", zap.Error(err))
		return Mock{}
	}

	l.logger.Info("SAM2 model loaded successfully", zap.String("model", loaded.Name))
	return loaded
}

func (l *Loader) loadReal(ctx context.Context) (Real, error) {
	store, err := l.open(l.source)
	if err != nil {
		return Real{}, fmt.Errorf("open store: %w", err)
	}

	pair, a, err := l.fetchFirst(ctx, store)
	if err != nil {
		return Real{}, err
	}

	weights, err := ParseWeights(a.weights)
	if err != nil {
		return Real{}, fmt.Errorf("parse weights %s: %w", pair.WeightsKey, err)
	}

	cfg, err := ParseModelConfig(a.config)
	if err != nil {
		return Real{}, fmt.Errorf("parse config %s: %w", pair.ConfigKey, err)
	}
	if cfg.Name == "" {
		cfg.Name = pair.Name()
	}

	inference, err := l.build(cfg, weights)
	if err != nil {
		return Real{}, fmt.Errorf("build %s: %w", cfg.Name, err)
	}

	return Real{Name: cfg.Name, Inference: inference}, nil
}

type artifacts struct {
	weights []byte
	config  []byte
}

// fetchFirst 依次尝试候选制品，返回第一组完整取到的
func (l *Loader) fetchFirst(ctx context.Context, store Store) (ArtifactPair, artifacts, error) {
	for _, pair := range l.candidates {
		a, err := l.fetch(ctx, store, pair)
		if err != nil {
			l.logger.Warn("failed to load model candidate",
				zap.String("weights", pair.WeightsKey),
				zap.String("config", pair.ConfigKey),
				zap.Error(err))
			continue
		}

		l.logger.Info("fetched model candidate",
			zap.String("weights", pair.WeightsKey),
			zap.Int("weights_bytes", len(a.weights)),
			zap.Int("config_bytes", len(a.config)))
		return pair, a, nil
	}
	return ArtifactPair{}, artifacts{}, ErrNoCandidates
}

func (l *Loader) fetch(ctx context.Context, store Store, pair ArtifactPair) (artifacts, error) {
	var a artifacts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := store.Fetch(gctx, pair.WeightsKey)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", pair.WeightsKey, err)
		}
		a.weights = data
		return nil
	})
	g.Go(func() error {
		data, err := store.Fetch(gctx, pair.ConfigKey)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", pair.ConfigKey, err)
		}
		a.config = data
		return nil
	})

	if err := g.Wait(); err != nil {
		return artifacts{}, err
	}
	return a, nil
}
