// Package imaging 负责请求图片的解码、尺寸校验、RGB 归一化和 JPEG 编码。
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// 注册解码器
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const (
	// MaxPixels 单张图片允许的最大像素数（约 10MP）
	MaxPixels = 10_000_000
	// JPEGQuality 输出 JPEG 质量
	JPEGQuality = 95
)

var (
	ErrTooLarge     = errors.New("image too large")
	ErrInvalidImage = errors.New("invalid image data")
)

// Decode 把请求字节解码为不透明的 RGB 图像
//
// 先只读图片头做尺寸校验，超过 MaxPixels 的图片不会被完整解码。
func Decode(data []byte) (*image.RGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := CheckSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return ToRGB(img), nil
}

// CheckSize 校验像素总数
func CheckSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrInvalidImage, width, height)
	}
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, width, height, MaxPixels)
	}
	return nil
}

// ToRGB 丢弃 alpha/调色板语义，输出原点在 (0,0) 的不透明 RGBA
// 与"转 RGB"一致：透明像素保留其底色，不与任何背景混合
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	src := toNRGBA(img)
	dst := image.NewRGBA(rect)
	for y := 0; y < rect.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+rect.Dx()*4]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+rect.Dx()*4]
		for i := 0; i < len(srow); i += 4 {
			drow[i] = srow[i]
			drow[i+1] = srow[i+1]
			drow[i+2] = srow[i+2]
			drow[i+3] = 0xff
		}
	}
	return dst
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// EncodeJPEG 按固定质量编码
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ResizeLongest 等比缩放使最长边等于 side，返回缩放后的图像和缩放系数
func ResizeLongest(img image.Image, side int) (image.Image, float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := max(w, h)
	if longest == 0 || side <= 0 {
		return img, 1
	}
	if longest == side {
		return img, 1
	}

	scale := float64(side) / float64(longest)
	newW := max(1, int(math.Round(float64(w)*scale)))
	newH := max(1, int(math.Round(float64(h)*scale)))

	return resize.Resize(uint(newW), uint(newH), img, resize.Bilinear), scale
}
