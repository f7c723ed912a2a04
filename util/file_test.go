package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nhttp "github.com/chaos-io/sam2seg/util/http"
)

func TestReadImage(t *testing.T) {
	t.Parallel()

	payload := []byte("not really a png")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	local := filepath.Join(dir, "local.png")
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	tests := []struct {
		name       string
		src        string
		wantErr    bool
		wantStatus int
	}{
		{name: "本地文件", src: local},
		{name: "远程文件", src: server.URL + "/ok.png"},
		{name: "本地文件不存在", src: filepath.Join(dir, "nope.png"), wantErr: true},
		{name: "远程文件不存在", src: server.URL + "/missing.png", wantErr: true, wantStatus: http.StatusNotFound},
	}

	cli := nhttp.NewHTTPClient()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ReadImage(context.Background(), cli, tt.src)
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantStatus != 0 {
					var statusErr *nhttp.StatusError
					require.ErrorAs(t, err, &statusErr)
					assert.Equal(t, tt.wantStatus, statusErr.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, mode := range []string{"release", "debug"} {
		logger, err := NewLogger(mode)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}
