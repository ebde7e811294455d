package compose

import (
	"errors"
	"image"
	"math"
	"sync"

	"github.com/anthonynsimon/bild/blur"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/compare"
	"github.com/chaos-io/bgremover/resolve"
	"github.com/chaos-io/bgremover/util"
)

var ErrNoForeground = errors.New("foreground bitmap not ready")

// Frame 一次绘制所需的全部输入。位图为 nil 表示尚未就绪，对应图层本帧跳过。
type Frame struct {
	Foreground *resolve.Bitmap
	Original   *resolve.Bitmap
	// Background 仅在 Treatment 为 Image 时使用
	Background *resolve.Bitmap
	Treatment  background.Treatment
	Compare    compare.State
}

type blurKey struct {
	refID  string
	w, h   int
	amount float64
}

type Renderer struct {
	scaler draw.Scaler
	// Affordance 是否绘制分割线和拖动柄
	Affordance bool

	mu      sync.Mutex
	blurKey blurKey
	blurred *image.RGBA
}

func NewRenderer(scaler draw.Scaler) *Renderer {
	if scaler == nil {
		scaler = draw.CatmullRom
	}
	return &Renderer{scaler: scaler, Affordance: true}
}

// Render 按顺序绘制：背景、前景、对比区域。
// 除前景缺失外，图层缺失或过期只记录日志并跳过，不返回错误。
func (r *Renderer) Render(s *Surface, f Frame) error {
	if f.Foreground == nil {
		return ErrNoForeground
	}

	// 画布尺寸由抠图决定
	s.Resize(f.Foreground.Width(), f.Foreground.Height())
	dst := s.img
	bounds := dst.Bounds()

	r.drawBackground(dst, f)
	stretch(r.scaler, dst, bounds, f.Foreground.Image, draw.Over)

	if f.Compare.Active {
		r.drawCompare(dst, f)
	}
	return nil
}

func (r *Renderer) drawBackground(dst *image.RGBA, f Frame) {
	bounds := dst.Bounds()
	t := f.Treatment

	switch t.Mode() {
	case background.Transparent:
	case background.SolidColor:
		draw.Draw(dst, bounds, image.NewUniform(t.Color()), image.Point{}, draw.Src)
	case background.Image:
		bg := f.Background
		switch {
		case bg == nil:
			util.Logger.Debug("background image not ready, skip", zap.Stringer("treatment", t))
		case !bg.For(t.Image()):
			util.Logger.Debug("stale background image discarded",
				zap.String("bitmap", bg.RefID), zap.Stringer("treatment", t))
		default:
			stretch(r.scaler, dst, bounds, bg.Image, draw.Src)
		}
	case background.Blur:
		if f.Original == nil {
			util.Logger.Debug("original image not ready, skip blur background")
			return
		}
		draw.Draw(dst, bounds, r.blurredOriginal(f.Original, bounds.Dx(), bounds.Dy(), t.BlurAmount()), image.Point{}, draw.Src)
	}
}

// blurredOriginal 原图拉伸到画布尺寸后做高斯模糊；结果按参数缓存，拖动对比时不必重复模糊
func (r *Renderer) blurredOriginal(orig *resolve.Bitmap, w, h int, amount float64) *image.RGBA {
	key := blurKey{refID: orig.RefID, w: w, h: h, amount: amount}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blurred != nil && r.blurKey == key {
		return r.blurred
	}

	defer util.Trace("blur background")()
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	stretch(r.scaler, scaled, scaled.Bounds(), orig.Image, draw.Src)
	if amount > 0 {
		scaled = GaussianBlur(scaled, amount)
	}

	r.blurKey = key
	r.blurred = scaled
	return scaled
}

// GaussianBlur 以 sigma 为标准差模糊，与 CSS blur(Npx) 一致。
// bild 的核为 exp(-x²/4r)，标准差为 √(2r)，因此 r = sigma²/2。
func GaussianBlur(img image.Image, sigma float64) *image.RGBA {
	return blur.Gaussian(img, sigma*sigma/2)
}

// drawCompare 分割线右侧恢复为原图像素。假设原图与抠图尺寸一致，不一致时只记录告警。
func (r *Renderer) drawCompare(dst *image.RGBA, f Frame) {
	bounds := dst.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	x := SplitColumn(f.Compare.SplitPercent, w)

	if orig := f.Original; orig == nil {
		util.Logger.Debug("original image not ready, skip compare strip")
	} else {
		if orig.Width() != w || orig.Height() != h {
			util.Logger.Warn("original and cutout sizes differ, compare strip may misalign",
				zap.Int("original_width", orig.Width()),
				zap.Int("original_height", orig.Height()),
				zap.Int("cutout_width", w),
				zap.Int("cutout_height", h))
		}
		strip := image.Rect(x, 0, w, h)
		draw.Draw(dst, strip, orig.Image, orig.Image.Bounds().Min.Add(image.Pt(x, 0)), draw.Src)
	}

	// 分割线在画布边缘时不画，0 和 100 分别对应纯原图和纯合成图
	if r.Affordance && x > 0 && x < w {
		drawAffordance(dst, x)
	}
}

// SplitColumn 分割百分比对应的列
func SplitColumn(percent float64, width int) int {
	x := int(math.Round(compare.Clamp(percent) / 100 * float64(width)))
	return max(0, min(width, x))
}
