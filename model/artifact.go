package model

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNoStore            = errors.New("no artifact store configured")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrNoCandidates       = errors.New("no model files found in artifact store")
	ErrRuntimeUnavailable = errors.New("inference runtime unavailable")
)

// ArtifactPair 一组权重 + 配置
type ArtifactPair struct {
	WeightsKey string
	ConfigKey  string
}

// Name 取权重文件名去掉扩展名
func (p ArtifactPair) Name() string {
	name := p.WeightsKey
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// Candidates 按优先级排列：SAM 2.1 优先，SAM 2 兜底
var Candidates = []ArtifactPair{
	{WeightsKey: "sam2.1_hiera_tiny.zip", ConfigKey: "sam2.1_hiera_t.yaml"},
	{WeightsKey: "sam2_hiera_tiny.zip", ConfigKey: "sam2_hiera_t.yaml"},
}

// Store 按 key 读取容器里的二进制制品
type Store interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Source 制品存储的连接配置，连接串为空即为本地/离线模式
type Source struct {
	ConnectionString string
	Container        string
}

func (s Source) Configured() bool {
	return s.ConnectionString != ""
}

// Opener 根据 Source 打开 Store
type Opener func(src Source) (Store, error)

// OpenStore 默认 Opener：http(s) 地址走 HTTP 镜像，其余按 Azure Blob 连接串处理
func OpenStore(src Source) (Store, error) {
	if !src.Configured() {
		return nil, ErrNoStore
	}
	conn := src.ConnectionString
	if strings.HasPrefix(conn, "http://") || strings.HasPrefix(conn, "https://") {
		return NewHTTPStore(conn, src.Container, nil), nil
	}
	store, err := NewBlobStore(conn, src.Container)
	if err != nil {
		return nil, err
	}
	return store, nil
}
