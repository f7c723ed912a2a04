package model

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// 权重包可能把真正的成员包在这些根目录下
var weightsRoots = []string{"state_dict", "model"}

// Weights 解包后的权重成员，key 为归一化后的相对路径
type Weights struct {
	Members map[string][]byte
}

func (w *Weights) Member(name string) ([]byte, error) {
	data, ok := w.Members[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("weights member %q not found", name)
	}
	return data, nil
}

// ParseWeights 解析 zip 格式的权重包
func ParseWeights(payload []byte) (*Weights, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open weights archive: %w", err)
	}

	members := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		members[path.Clean(strings.TrimPrefix(f.Name, "/"))] = data
	}
	if len(members) == 0 {
		return nil, errors.New("weights archive is empty")
	}

	return &Weights{Members: unwrapRoot(members)}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open weights member %s: %w", f.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read weights member %s: %w", f.Name, err)
	}
	return data, nil
}

// unwrapRoot 如果成员被包在 state_dict/ 或 model/ 下，取出嵌套的那一层
func unwrapRoot(members map[string][]byte) map[string][]byte {
	for _, root := range weightsRoots {
		prefix := root + "/"
		nested := make(map[string][]byte)
		for name, data := range members {
			if rest, ok := strings.CutPrefix(name, prefix); ok {
				nested[rest] = data
			}
		}
		if len(nested) > 0 {
			return nested
		}
	}
	return members
}

// TensorSpec 张量名和形状
type TensorSpec struct {
	Name  string  `yaml:"name"`
	Shape []int64 `yaml:"shape"`
}

type EncoderConfig struct {
	File    string       `yaml:"file"`
	Input   string       `yaml:"input"`
	Outputs []TensorSpec `yaml:"outputs"`
}

type DecoderConfig struct {
	File         string `yaml:"file"`
	PointCoords  string `yaml:"point_coords"`
	PointLabels  string `yaml:"point_labels"`
	MaskInput    string `yaml:"mask_input"`
	HasMaskInput string `yaml:"has_mask_input"`
	Masks        string `yaml:"masks"`
	Scores       string `yaml:"scores"`
	MaskSize     int    `yaml:"mask_size"`
	NumMasks     int    `yaml:"num_masks"`
}

// ModelConfig 模型配置，未知字段忽略，缺省字段取默认值
type ModelConfig struct {
	Name          string        `yaml:"name"`
	ImageSize     int           `yaml:"image_size"`
	Mean          []float32     `yaml:"mean"`
	Std           []float32     `yaml:"std"`
	MaskThreshold float32       `yaml:"mask_threshold"`
	Encoder       EncoderConfig `yaml:"encoder"`
	Decoder       DecoderConfig `yaml:"decoder"`
}

func ParseModelConfig(data []byte) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal model config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ModelConfig) applyDefaults() {
	if c.ImageSize == 0 {
		c.ImageSize = 1024
	}
	if len(c.Mean) == 0 {
		c.Mean = []float32{0.485, 0.456, 0.406}
	}
	if len(c.Std) == 0 {
		c.Std = []float32{0.229, 0.224, 0.225}
	}

	e := &c.Encoder
	if e.File == "" {
		e.File = "image_encoder.onnx"
	}
	if e.Input == "" {
		e.Input = "image"
	}
	if len(e.Outputs) == 0 {
		s := int64(c.ImageSize)
		e.Outputs = []TensorSpec{
			{Name: "high_res_feats_0", Shape: []int64{1, 32, s / 4, s / 4}},
			{Name: "high_res_feats_1", Shape: []int64{1, 64, s / 8, s / 8}},
			{Name: "image_embed", Shape: []int64{1, 256, s / 16, s / 16}},
		}
	}

	d := &c.Decoder
	if d.File == "" {
		d.File = "mask_decoder.onnx"
	}
	if d.PointCoords == "" {
		d.PointCoords = "point_coords"
	}
	if d.PointLabels == "" {
		d.PointLabels = "point_labels"
	}
	if d.MaskInput == "" {
		d.MaskInput = "mask_input"
	}
	if d.HasMaskInput == "" {
		d.HasMaskInput = "has_mask_input"
	}
	if d.Masks == "" {
		d.Masks = "masks"
	}
	if d.Scores == "" {
		d.Scores = "iou_predictions"
	}
	if d.MaskSize == 0 {
		d.MaskSize = c.ImageSize / 4
	}
	if d.NumMasks == 0 {
		d.NumMasks = 3
	}
}

func (c *ModelConfig) validate() error {
	if c.ImageSize < 0 || c.Decoder.MaskSize < 0 || c.Decoder.NumMasks < 0 {
		return fmt.Errorf("invalid model config: image_size=%d mask_size=%d num_masks=%d",
			c.ImageSize, c.Decoder.MaskSize, c.Decoder.NumMasks)
	}
	if len(c.Mean) != 3 || len(c.Std) != 3 {
		return fmt.Errorf("invalid model config: mean and std need 3 channels, got %d and %d", len(c.Mean), len(c.Std))
	}
	for _, v := range c.Std {
		if v == 0 {
			return errors.New("invalid model config: std must be non-zero")
		}
	}
	for _, o := range c.Encoder.Outputs {
		if o.Name == "" || len(o.Shape) == 0 {
			return fmt.Errorf("invalid model config: encoder output %+v", o)
		}
	}
	return nil
}
