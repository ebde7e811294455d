// Package compose draws a cutout over its background treatment and the
// before/after compare overlay.
package compose

import (
	"errors"
	"image"
	"image/png"
	"io"

	"github.com/anthonynsimon/bild/clone"
)

const ExportFilename = "removed_background.png"

var ErrEmptySurface = errors.New("surface has not been rendered")

// Surface 绘制目标，只由 Renderer 写入
type Surface struct {
	img *image.RGBA
}

func NewSurface() *Surface {
	return &Surface{}
}

// Resize 尺寸变化时重新分配，否则清空
func (s *Surface) Resize(w, h int) {
	if s.img != nil && s.img.Bounds().Dx() == w && s.img.Bounds().Dy() == h {
		clear(s.img.Pix)
		return
	}
	s.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

func (s *Surface) Bounds() image.Rectangle {
	if s.img == nil {
		return image.Rectangle{}
	}
	return s.img.Bounds()
}

// Image 当前内容，调用方不得修改
func (s *Surface) Image() *image.RGBA {
	return s.img
}

// Snapshot 当前内容的副本
func (s *Surface) Snapshot() *image.RGBA {
	if s.img == nil {
		return nil
	}
	return clone.AsRGBA(s.img)
}

// EncodePNG 把当前内容编码为 PNG
func EncodePNG(w io.Writer, s *Surface) error {
	if s.img == nil {
		return ErrEmptySurface
	}
	return png.Encode(w, s.img)
}
