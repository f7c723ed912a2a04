package model

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfig = `
image_size: 64
mean: [0.5, 0.5, 0.5]
std: [0.5, 0.5, 0.5]
hydra_target: sam2.modeling.sam2_base.SAM2Base
`

func makeWeights(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeStore 内存制品存储，记录 Fetch 次数
type fakeStore struct {
	blobs   map[string][]byte
	delay   time.Duration
	fetches atomic.Int32
}

func (s *fakeStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return data, nil
}

type fakeInference struct{}

func (fakeInference) SetImage(*image.RGBA) error { return nil }

func (fakeInference) Predict([]Point, []int, bool) (*Prediction, error) {
	return &Prediction{}, nil
}

type harness struct {
	store  *fakeStore
	opens  atomic.Int32
	builds atomic.Int32
	built  *ModelConfig
	mu     sync.Mutex
}

func (h *harness) opener(src Source) (Store, error) {
	h.opens.Add(1)
	return h.store, nil
}

func (h *harness) builder(cfg *ModelConfig, w *Weights) (Inference, error) {
	h.builds.Add(1)
	if _, err := w.Member(cfg.Encoder.File); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.built = cfg
	h.mu.Unlock()
	return fakeInference{}, nil
}

var configured = Source{ConnectionString: "http://artifacts.local", Container: "checkpoints"}

func TestLoader_NoStoreConfigured(t *testing.T) {
	t.Parallel()

	h := &harness{store: &fakeStore{}}
	l := NewLoader(Source{Container: "checkpoints"}, zap.NewNop(),
		WithOpener(h.opener), WithBuilder(h.builder))

	assert.Equal(t, StatusUninitialized, l.Status())
	assert.Equal(t, "not_loaded", l.Status().ModelStatus())
	assert.False(t, l.StoreConfigured())

	p := l.EnsureLoaded(context.Background())
	assert.IsType(t, Mock{}, p)
	assert.Equal(t, StatusReadyMock, l.Status())
	assert.Equal(t, "mock_model", l.Status().ModelStatus())
	assert.Zero(t, h.opens.Load())
	assert.Zero(t, h.store.fetches.Load())
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	weights := makeWeights(t, map[string]string{
		"state_dict/image_encoder.onnx": "enc",
		"state_dict/mask_decoder.onnx":  "dec",
	})

	tests := []struct {
		name       string
		blobs      map[string][]byte
		build      Builder
		wantStatus Status
		wantName   string
	}{
		{
			name: "首选候选可用",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": weights,
				"sam2.1_hiera_t.yaml":   []byte(testConfig),
			},
			wantStatus: StatusReadyReal,
			wantName:   "sam2.1_hiera_tiny",
		},
		{
			name: "首选缺失，回退到旧版本",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": weights,
				"sam2_hiera_tiny.zip":   weights,
				"sam2_hiera_t.yaml":     []byte(testConfig),
			},
			wantStatus: StatusReadyReal,
			wantName:   "sam2_hiera_tiny",
		},
		{
			name:       "所有候选都缺失",
			blobs:      map[string][]byte{},
			wantStatus: StatusReadyMock,
		},
		{
			name: "权重不是 zip",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": []byte("torch pickle"),
				"sam2.1_hiera_t.yaml":   []byte(testConfig),
			},
			wantStatus: StatusReadyMock,
		},
		{
			name: "配置不是合法 YAML",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": weights,
				"sam2.1_hiera_t.yaml":   []byte("image_size: [unclosed"),
			},
			wantStatus: StatusReadyMock,
		},
		{
			name: "推理运行时不可用",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": weights,
				"sam2.1_hiera_t.yaml":   []byte(testConfig),
			},
			build: func(*ModelConfig, *Weights) (Inference, error) {
				return nil, ErrRuntimeUnavailable
			},
			wantStatus: StatusReadyMock,
		},
		{
			name: "构建时 panic",
			blobs: map[string][]byte{
				"sam2.1_hiera_tiny.zip": weights,
				"sam2.1_hiera_t.yaml":   []byte(testConfig),
			},
			build: func(*ModelConfig, *Weights) (Inference, error) {
				panic("boom")
			},
			wantStatus: StatusReadyMock,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &harness{store: &fakeStore{blobs: tt.blobs}}
			build := tt.build
			if build == nil {
				build = h.builder
			}
			l := NewLoader(configured, zap.NewNop(), WithOpener(h.opener), WithBuilder(build))

			p := l.EnsureLoaded(context.Background())
			assert.Equal(t, tt.wantStatus, l.Status())
			assert.LessOrEqual(t, h.store.fetches.Load(), int32(2*len(Candidates)))

			if tt.wantStatus == StatusReadyReal {
				got, ok := p.(Real)
				require.True(t, ok)
				assert.Equal(t, tt.wantName, got.Name)
				assert.Equal(t, 64, h.built.ImageSize)
				return
			}
			assert.IsType(t, Mock{}, p)
		})
	}
}

func TestLoader_OpenStoreFails(t *testing.T) {
	t.Parallel()

	l := NewLoader(configured, zap.NewNop(),
		WithOpener(func(Source) (Store, error) { return nil, errors.New("unreachable") }))

	assert.IsType(t, Mock{}, l.EnsureLoaded(context.Background()))
	assert.Equal(t, StatusReadyMock, l.Status())
}

func TestLoader_DefaultBuilderFallsBackToMock(t *testing.T) {
	t.Parallel()

	store := &fakeStore{blobs: map[string][]byte{
		"sam2.1_hiera_tiny.zip": makeWeights(t, map[string]string{
			"image_encoder.onnx": "not a graph",
			"mask_decoder.onnx":  "not a graph",
		}),
		"sam2.1_hiera_t.yaml": []byte(testConfig),
	}}
	l := NewLoader(configured, zap.NewNop(),
		WithOpener(func(Source) (Store, error) { return store, nil }))

	assert.IsType(t, Mock{}, l.EnsureLoaded(context.Background()))
}

func TestLoader_ConcurrentEnsureLoaded(t *testing.T) {
	t.Parallel()

	h := &harness{store: &fakeStore{
		delay: 20 * time.Millisecond,
		blobs: map[string][]byte{
			"sam2_hiera_tiny.zip": makeWeights(t, map[string]string{
				"model/image_encoder.onnx": "enc",
				"model/mask_decoder.onnx":  "dec",
			}),
			"sam2_hiera_t.yaml": []byte(testConfig),
		},
	}}
	l := NewLoader(configured, zap.NewNop(), WithOpener(h.opener), WithBuilder(h.builder))

	const callers = 32
	results := make([]Predictor, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.opens.Load())
	assert.Equal(t, int32(1), h.builds.Load())
	assert.LessOrEqual(t, h.store.fetches.Load(), int32(2*len(Candidates)))
	for _, p := range results {
		assert.IsType(t, Real{}, p)
	}
	assert.Equal(t, StatusReadyReal, l.Status())
}

func TestLoader_NeverReloads(t *testing.T) {
	t.Parallel()

	h := &harness{store: &fakeStore{blobs: map[string][]byte{}}}
	l := NewLoader(configured, zap.NewNop(), WithOpener(h.opener), WithBuilder(h.builder))

	assert.IsType(t, Mock{}, l.EnsureLoaded(context.Background()))
	fetches := h.store.fetches.Load()

	// 之后制品出现也不会重试
	h.store.blobs = map[string][]byte{
		"sam2.1_hiera_tiny.zip": makeWeights(t, map[string]string{"image_encoder.onnx": "enc"}),
		"sam2.1_hiera_t.yaml":   []byte(testConfig),
	}
	for i := 0; i < 3; i++ {
		assert.IsType(t, Mock{}, l.EnsureLoaded(context.Background()))
	}
	assert.Equal(t, fetches, h.store.fetches.Load())
	assert.Equal(t, int32(1), h.opens.Load())
	assert.Equal(t, StatusReadyMock, l.Status())
}

func TestLoader_IgnoresRequestCancellation(t *testing.T) {
	t.Parallel()

	h := &harness{store: &fakeStore{blobs: map[string][]byte{
		"sam2.1_hiera_tiny.zip": makeWeights(t, map[string]string{
			"image_encoder.onnx": "enc",
			"mask_decoder.onnx":  "dec",
		}),
		"sam2.1_hiera_t.yaml": []byte(testConfig),
	}}}
	l := NewLoader(configured, zap.NewNop(), WithOpener(h.opener), WithBuilder(h.builder))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.IsType(t, Real{}, l.EnsureLoaded(ctx))
}

func TestLoader_LoadTimeout(t *testing.T) {
	t.Parallel()

	h := &harness{store: &fakeStore{
		delay: 50 * time.Millisecond,
		blobs: map[string][]byte{
			"sam2.1_hiera_tiny.zip": makeWeights(t, map[string]string{"image_encoder.onnx": "enc"}),
			"sam2.1_hiera_t.yaml":   []byte(testConfig),
		},
	}}
	l := NewLoader(configured, zap.NewNop(),
		WithOpener(h.opener), WithBuilder(h.builder), WithLoadTimeout(10*time.Millisecond))

	assert.IsType(t, Mock{}, l.EnsureLoaded(context.Background()))
	assert.Zero(t, h.builds.Load())
}

func TestArtifactPair_Name(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sam2.1_hiera_tiny", Candidates[0].Name())
	assert.Equal(t, "sam2_hiera_tiny", Candidates[1].Name())
	assert.Equal(t, "weights", ArtifactPair{WeightsKey: "weights"}.Name())
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "not_loaded", StatusLoading.ModelStatus())
	assert.Equal(t, "loaded", StatusReadyReal.ModelStatus())
}
