// Package model 负责 SAM2 模型的来源、一次性加载和降级策略。
package model

import (
	"image"
)

// LabelForeground 前景点标签
const LabelForeground = 1

// Status 模型句柄状态，只能单向推进
type Status int32

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReadyMock
	StatusReadyReal
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReadyMock:
		return "ready_mock"
	case StatusReadyReal:
		return "ready_real"
	default:
		return "unknown"
	}
}

// ModelStatus 对外暴露的模型状态
func (s Status) ModelStatus() string {
	switch s {
	case StatusReadyMock:
		return "mock_model"
	case StatusReadyReal:
		return "loaded"
	default:
		return "not_loaded"
	}
}

// Predictor 是 Mock 或 Real 之一
type Predictor interface {
	status() Status
}

// Mock 降级模式：不做分割，原图直出
type Mock struct{}

func (Mock) status() Status { return StatusReadyMock }

// Real 已加载的真实模型
type Real struct {
	Name      string
	Inference Inference
}

func (Real) status() Status { return StatusReadyReal }

// Point 像素坐标
type Point struct {
	X, Y int
}

// Inference 推理运行时需要实现的黑盒接口
//
// SetImage 设置当前图片上下文，随后的 Predict 基于该上下文；两者不是并发安全的。
type Inference interface {
	SetImage(img *image.RGBA) error
	Predict(points []Point, labels []int, multimask bool) (*Prediction, error)
}

// Prediction 候选掩码及其置信度，按下标一一对应
type Prediction struct {
	Masks  []Mask
	Scores []float32
}

// Mask 与原图同尺寸的布尔栅格，true 为前景
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) Mask {
	return Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m Mask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

func (m Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}
