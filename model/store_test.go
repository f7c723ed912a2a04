package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPStore_Fetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/checkpoints/sam2_hiera_t.yaml":
			_, _ = w.Write([]byte("image_size: 1024"))
		case "/checkpoints/broken.zip":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	store := NewHTTPStore(server.URL, "checkpoints", nil)
	ctx := context.Background()

	data, err := store.Fetch(ctx, "sam2_hiera_t.yaml")
	require.NoError(t, err)
	assert.Equal(t, "image_size: 1024", string(data))

	_, err = store.Fetch(ctx, "sam2.1_hiera_tiny.zip")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = store.Fetch(ctx, "broken.zip")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	_, err := OpenStore(Source{})
	assert.ErrorIs(t, err, ErrNoStore)

	store, err := OpenStore(Source{ConnectionString: "https://mirror.example.com/models", Container: "checkpoints"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPStore{}, store)

	_, err = OpenStore(Source{ConnectionString: "garbage", Container: "checkpoints"})
	assert.Error(t, err)
}

// slowMirror 权重分两段返回，中间停顿 pause
func slowMirror(t *testing.T, weights []byte, pause time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/checkpoints/sam2.1_hiera_tiny.zip":
			half := len(weights) / 2
			_, _ = w.Write(weights[:half])
			w.(http.Flusher).Flush()
			time.Sleep(pause)
			_, _ = w.Write(weights[half:])
		case "/checkpoints/sam2.1_hiera_t.yaml":
			_, _ = w.Write([]byte(testConfig))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoader_SlowHTTPMirror(t *testing.T) {
	t.Parallel()

	weights := makeWeights(t, map[string]string{"image_encoder.onnx": "enc", "mask_decoder.onnx": "dec"})

	tests := []struct {
		name        string
		pause       time.Duration
		loadTimeout time.Duration
		want        Predictor
	}{
		{name: "慢下载在加载超时内完成", pause: 500 * time.Millisecond, loadTimeout: 10 * time.Second, want: Real{}},
		{name: "超过加载超时降级", pause: 2 * time.Second, loadTimeout: 200 * time.Millisecond, want: Mock{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := slowMirror(t, weights, tt.pause)
			h := &harness{}
			l := NewLoader(Source{ConnectionString: server.URL, Container: "checkpoints"}, zap.NewNop(),
				WithBuilder(h.builder), WithLoadTimeout(tt.loadTimeout))

			assert.IsType(t, tt.want, l.EnsureLoaded(context.Background()))
		})
	}
}
