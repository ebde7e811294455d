// Package ingest validates uploaded images and turns them into references.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/resolve"
	"github.com/chaos-io/bgremover/util"
)

var (
	ErrEmpty           = errors.New("empty upload")
	ErrTooLarge        = errors.New("upload exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported image type")
)

type Options struct {
	MaxSize      int64
	MaxDimension int
	AllowedTypes []string
}

// Asset 一张可以发送给抠图服务、也可以直接解码的图片
type Asset struct {
	Name   string
	MIME   string
	Data   []byte
	Width  int
	Height int
	Ref    *resolve.Reference
}

// Prepare 校验大小和类型；最长边超过 MaxDimension 时缩放并重新编码为 PNG，
// 保证原图和抠图尺寸一致
func Prepare(name string, data []byte, opts Options) (*Asset, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if opts.MaxSize > 0 && int64(len(data)) > opts.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), opts.MaxSize)
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) || !allowed(kind.MIME.Value, opts.AllowedTypes) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, kind.MIME.Value)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	asset := &Asset{Name: name, MIME: kind.MIME.Value, Data: data, Width: cfg.Width, Height: cfg.Height}
	if opts.MaxDimension > 0 && max(cfg.Width, cfg.Height) > opts.MaxDimension {
		if err := asset.shrink(opts.MaxDimension); err != nil {
			return nil, err
		}
	}

	asset.Ref = resolve.NewDataRef(asset.Name, asset.Data)
	return asset, nil
}

// shrink 缩放（最长边 <= maxSize）
func (a *Asset) shrink(maxSize int) error {
	img, _, err := util.DecodeImage(a.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	longest := max(a.Width, a.Height)
	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(a.Width)*scale))
	newH := max(1, int(float64(a.Height)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return fmt.Errorf("encode resized image: %w", err)
	}

	util.Logger.Info("upload downscaled",
		zap.String("name", a.Name),
		zap.Int("width", a.Width),
		zap.Int("height", a.Height),
		zap.Int("new_width", newW),
		zap.Int("new_height", newH))

	a.Name = strings.TrimSuffix(a.Name, filepath.Ext(a.Name)) + ".png"
	a.MIME = "image/png"
	a.Data = buf.Bytes()
	a.Width, a.Height = newW, newH
	return nil
}

func allowed(mime string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.EqualFold(mime, t) {
			return true
		}
	}
	return false
}
