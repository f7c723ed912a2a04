// Package segment 用中心点提示跑一次 SAM2，把背景替换为白色。
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/model"
)

var ErrNoMask = errors.New("no segmentation mask could be generated")

// Engine 对 Predictor 提供统一的 Segment 调用
//
// 同一个推理实例的 SetImage + Predict 需要成对执行，mu 负责串行化。
type Engine struct {
	mu     sync.Mutex
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Segment 返回与输入同尺寸的图像；Mock 模式原图直出
func (e *Engine) Segment(ctx context.Context, p model.Predictor, img *image.RGBA) (*image.RGBA, error) {
	switch p := p.(type) {
	case model.Mock:
		e.logger.Debug("using mock model, returning input unchanged")
		return img, nil
	case model.Real:
		return e.segment(ctx, p, img)
	default:
		return nil, fmt.Errorf("unsupported predictor %T", p)
	}
}

func (e *Engine) segment(ctx context.Context, p model.Real, img *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := CenterPoint(img.Bounds())
	pred, err := e.predict(p.Inference, img, prompt)
	if err != nil {
		return nil, err
	}

	best, err := BestMask(pred)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("mask selected",
		zap.String("model", p.Name),
		zap.Int("candidates", len(pred.Masks)),
		zap.Int("index", best),
		zap.Float32("score", pred.Scores[best]))

	return Composite(img, pred.Masks[best])
}

func (e *Engine) predict(inf model.Inference, img *image.RGBA, prompt model.Point) (*model.Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := inf.SetImage(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	pred, err := inf.Predict([]model.Point{prompt}, []int{model.LabelForeground}, true)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return pred, nil
}

// CenterPoint 图像中心 (w/2, h/2)
func CenterPoint(bounds image.Rectangle) model.Point {
	return model.Point{X: bounds.Dx() / 2, Y: bounds.Dy() / 2}
}

// BestMask 返回得分最高的掩码下标，并列时取第一个；出现 NaN 时返回第一个 NaN 的下标
func BestMask(pred *model.Prediction) (int, error) {
	if pred == nil || len(pred.Masks) == 0 {
		return 0, ErrNoMask
	}
	if len(pred.Scores) != len(pred.Masks) {
		return 0, fmt.Errorf("prediction has %d masks but %d scores", len(pred.Masks), len(pred.Scores))
	}

	best := 0
	for i, s := range pred.Scores {
		if math.IsNaN(float64(s)) {
			return i, nil
		}
		if s > pred.Scores[best] {
			best = i
		}
	}
	return best, nil
}

// Composite 掩码为 false 的像素置为纯白，其余保持原色
func Composite(img *image.RGBA, mask model.Mask) (*image.RGBA, error) {
	b := img.Bounds()
	if mask.Width != b.Dx() || mask.Height != b.Dy() || len(mask.Bits) != mask.Width*mask.Height {
		return nil, fmt.Errorf("mask %dx%d does not match image %dx%d", mask.Width, mask.Height, b.Dx(), b.Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			if mask.At(x, y) {
				copy(dst[i:i+4], src[i:i+4])
				continue
			}
			dst[i], dst[i+1], dst[i+2], dst[i+3] = 0xff, 0xff, 0xff, 0xff
		}
	}
	return out, nil
}
