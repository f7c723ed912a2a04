//go:build onnx

package model

import (
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/sam2seg/imaging"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime onnxruntime 环境是进程级的，只初始化一次
func initRuntime(opts RuntimeOptions) error {
	ortOnce.Do(func() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
	})
	return ortErr
}

// NewONNXBuilder 基于 onnxruntime 构建 SAM2 推理（图像编码器 + 提示/掩码解码器）
func NewONNXBuilder(opts RuntimeOptions) Builder {
	return func(cfg *ModelConfig, weights *Weights) (Inference, error) {
		if err := initRuntime(opts); err != nil {
			return nil, err
		}
		return newONNXInference(cfg, weights, opts)
	}
}

type onnxInference struct {
	cfg     *ModelConfig
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession

	// 当前图片上下文
	features []*ort.Tensor[float32]
	width    int
	height   int
	scale    float64
}

func newONNXInference(cfg *ModelConfig, weights *Weights, opts RuntimeOptions) (*onnxInference, error) {
	encoderData, err := weights.Member(cfg.Encoder.File)
	if err != nil {
		return nil, err
	}
	decoderData, err := weights.Member(cfg.Decoder.File)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	defer func() {
		_ = options.Destroy()
	}()
	if opts.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, fmt.Errorf("set intra op threads: %w", err)
		}
	}

	featureNames := make([]string, 0, len(cfg.Encoder.Outputs))
	for _, o := range cfg.Encoder.Outputs {
		featureNames = append(featureNames, o.Name)
	}

	encoder, err := ort.NewDynamicAdvancedSessionWithONNXData(encoderData,
		[]string{cfg.Encoder.Input}, featureNames, options)
	if err != nil {
		return nil, fmt.Errorf("create encoder session: %w", err)
	}

	d := cfg.Decoder
	decoderInputs := append(append([]string{}, featureNames...),
		d.PointCoords, d.PointLabels, d.MaskInput, d.HasMaskInput)
	decoder, err := ort.NewDynamicAdvancedSessionWithONNXData(decoderData,
		decoderInputs, []string{d.Masks, d.Scores}, options)
	if err != nil {
		_ = encoder.Destroy()
		return nil, fmt.Errorf("create decoder session: %w", err)
	}

	return &onnxInference{cfg: cfg, encoder: encoder, decoder: decoder}, nil
}

func (o *onnxInference) SetImage(img *image.RGBA) error {
	o.releaseFeatures()

	size := int64(o.cfg.ImageSize)
	resized, scale := imaging.ResizeLongest(img, o.cfg.ImageSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), o.normalize(resized))
	if err != nil {
		return fmt.Errorf("create image tensor: %w", err)
	}
	defer destroy(input)

	features := make([]*ort.Tensor[float32], 0, len(o.cfg.Encoder.Outputs))
	outputs := make([]ort.Value, 0, len(o.cfg.Encoder.Outputs))
	for _, spec := range o.cfg.Encoder.Outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			destroy(outputs...)
			return fmt.Errorf("create %s tensor: %w", spec.Name, err)
		}
		features = append(features, t)
		outputs = append(outputs, t)
	}

	if err := o.encoder.Run([]ort.Value{input}, outputs); err != nil {
		destroy(outputs...)
		return fmt.Errorf("run encoder: %w", err)
	}

	o.features = features
	o.width = img.Bounds().Dx()
	o.height = img.Bounds().Dy()
	o.scale = scale
	return nil
}

// normalize 转 CHW float32，按 mean/std 归一化，右下补零到正方形
func (o *onnxInference) normalize(img image.Image) []float32 {
	size := o.cfg.ImageSize
	plane := size * size
	data := make([]float32, 3*plane)
	mean, std := o.cfg.Mean, o.cfg.Std

	b := img.Bounds()
	for y := 0; y < b.Dy() && y < size; y++ {
		for x := 0; x < b.Dx() && x < size; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*size + x
			data[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			data[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
		}
	}
	return data
}

func (o *onnxInference) Predict(points []Point, labels []int, multimask bool) (*Prediction, error) {
	if o.features == nil {
		return nil, errors.New("predict called before set image")
	}
	if len(points) == 0 || len(points) != len(labels) {
		return nil, fmt.Errorf("got %d points and %d labels", len(points), len(labels))
	}

	n := int64(len(points))
	coords := make([]float32, 0, 2*n)
	pointLabels := make([]float32, 0, n)
	for i, p := range points {
		coords = append(coords, float32(float64(p.X)*o.scale), float32(float64(p.Y)*o.scale))
		pointLabels = append(pointLabels, float32(labels[i]))
	}

	m := int64(o.cfg.Decoder.MaskSize)
	k := int64(o.cfg.Decoder.NumMasks)

	coordsT, err := ort.NewTensor(ort.NewShape(1, n, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("create point tensor: %w", err)
	}
	defer destroy(coordsT)

	labelsT, err := ort.NewTensor(ort.NewShape(1, n), pointLabels)
	if err != nil {
		return nil, fmt.Errorf("create label tensor: %w", err)
	}
	defer destroy(labelsT)

	maskInputT, err := ort.NewTensor(ort.NewShape(1, 1, m, m), make([]float32, m*m))
	if err != nil {
		return nil, fmt.Errorf("create mask input tensor: %w", err)
	}
	defer destroy(maskInputT)

	hasMaskT, err := ort.NewTensor(ort.NewShape(1), []float32{0})
	if err != nil {
		return nil, fmt.Errorf("create has mask tensor: %w", err)
	}
	defer destroy(hasMaskT)

	masksT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, k, m, m))
	if err != nil {
		return nil, fmt.Errorf("create masks tensor: %w", err)
	}
	defer destroy(masksT)

	scoresT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, k))
	if err != nil {
		return nil, fmt.Errorf("create scores tensor: %w", err)
	}
	defer destroy(scoresT)

	inputs := make([]ort.Value, 0, len(o.features)+4)
	for _, f := range o.features {
		inputs = append(inputs, f)
	}
	inputs = append(inputs, coordsT, labelsT, maskInputT, hasMaskT)

	if err := o.decoder.Run(inputs, []ort.Value{masksT, scoresT}); err != nil {
		return nil, fmt.Errorf("run decoder: %w", err)
	}

	count := int(k)
	if !multimask {
		count = 1
	}

	logits := masksT.GetData()
	scores := scoresT.GetData()
	plane := int(m * m)

	pred := &Prediction{
		Masks:  make([]Mask, 0, count),
		Scores: append([]float32(nil), scores[:count]...),
	}
	for i := 0; i < count; i++ {
		pred.Masks = append(pred.Masks, o.upsample(logits[i*plane:(i+1)*plane]))
	}
	return pred, nil
}

// upsample 把低分辨率 logits 最近邻映射回原图尺寸并二值化
func (o *onnxInference) upsample(logits []float32) Mask {
	m := o.cfg.Decoder.MaskSize
	ratio := o.scale * float64(m) / float64(o.cfg.ImageSize)
	threshold := o.cfg.MaskThreshold

	mask := NewMask(o.width, o.height)
	for y := 0; y < o.height; y++ {
		my := min(int(float64(y)*ratio), m-1)
		for x := 0; x < o.width; x++ {
			mx := min(int(float64(x)*ratio), m-1)
			mask.Set(x, y, logits[my*m+mx] > threshold)
		}
	}
	return mask
}

func (o *onnxInference) releaseFeatures() {
	for _, f := range o.features {
		destroy(f)
	}
	o.features = nil
}

func destroy(values ...ort.Value) {
	for _, v := range values {
		_ = v.Destroy()
	}
}
