package model

// RuntimeOptions 推理运行时参数
type RuntimeOptions struct {
	// LibraryPath onnxruntime 共享库路径，为空时使用运行时默认路径
	LibraryPath string
	// NumThreads 为 0 时由运行时决定
	NumThreads int
}
