package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	nhttp "github.com/chaos-io/sam2seg/util/http"
)

// HTTPStore 从 HTTP 镜像读取制品：GET <base>/<container>/<key>
//
// 默认客户端不设总超时，下载时长由调用方的 ctx 限定。
type HTTPStore struct {
	baseURL   string
	container string
	cli       nhttp.IClient
}

func NewHTTPStore(baseURL, container string, cli nhttp.IClient) *HTTPStore {
	if cli == nil {
		cli = nhttp.NewHTTPClientWithTimeout(0)
	}
	return &HTTPStore{baseURL: baseURL, container: container, cli: cli}
}

func (s *HTTPStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	uri, err := url.JoinPath(s.baseURL, s.container, key)
	if err != nil {
		return nil, fmt.Errorf("build artifact url: %w", err)
	}

	var data []byte
	err = s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: uri,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		var statusErr *nhttp.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, s.container, key)
		}
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	return data, nil
}
