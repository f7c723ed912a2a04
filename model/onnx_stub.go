//go:build !onnx

package model

// NewONNXBuilder 未启用 onnx 构建标签时，构建总是失败并降级为 Mock
func NewONNXBuilder(opts RuntimeOptions) Builder {
	return func(cfg *ModelConfig, weights *Weights) (Inference, error) {
		return nil, ErrRuntimeUnavailable
	}
}
