package compose

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/anthonynsimon/bild/clone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/compare"
	"github.com/chaos-io/bgremover/resolve"
)

// photo 生成一张不透明的渐变“照片”
func photo(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

// cutout 只保留中间矩形区域的主体，其余透明
func cutout(orig *image.NRGBA, subject image.Rectangle) *image.NRGBA {
	b := orig.Bounds()
	img := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if (image.Point{X: x, Y: y}).In(subject) {
				img.SetNRGBA(x, y, orig.NRGBAAt(x, y))
			}
		}
	}
	return img
}

func bitmap(name string, img *image.NRGBA) (*resolve.Reference, *resolve.Bitmap) {
	ref := resolve.NewDataRef(name, nil)
	return ref, &resolve.Bitmap{RefID: ref.ID(), Image: img}
}

type fixture struct {
	origRef *resolve.Reference
	orig    *resolve.Bitmap
	fg      *resolve.Bitmap
	subject image.Rectangle
}

func newFixture(w, h int) fixture {
	o := photo(w, h)
	subject := image.Rect(w/4, h/4, w*3/4, h*3/4)
	origRef, orig := bitmap("original", o)
	_, fg := bitmap("cutout", cutout(o, subject))
	return fixture{origRef: origRef, orig: orig, fg: fg, subject: subject}
}

func (fx fixture) frame(t background.Treatment, c compare.State) Frame {
	return Frame{Foreground: fx.fg, Original: fx.orig, Treatment: t, Compare: c}
}

func render(t *testing.T, r *Renderer, f Frame) *image.RGBA {
	t.Helper()
	s := NewSurface()
	require.NoError(t, r.Render(s, f))
	return s.Snapshot()
}

// requireSamePixels 报告第一个不同的像素，避免输出整块 Pix
func requireSamePixels(t *testing.T, want, got *image.RGBA) {
	t.Helper()
	require.Equal(t, want.Bounds(), got.Bounds())
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if want.RGBAAt(x, y) != got.RGBAAt(x, y) {
				require.Failf(t, "pixel mismatch", "(%d,%d): want %v, got %v", x, y, want.RGBAAt(x, y), got.RGBAAt(x, y))
			}
		}
	}
}

func TestRenderer_Scenario(t *testing.T) {
	t.Parallel()

	fx := newFixture(800, 600)
	r := NewRenderer(nil)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	// 白色背景
	got := render(t, r, fx.frame(background.NewColor(color.White), compare.State{SplitPercent: 100}))
	assert.Equal(t, image.Rect(0, 0, 800, 600), got.Bounds())
	assert.Equal(t, white, got.RGBAAt(0, 0))
	assert.Equal(t, white, got.RGBAAt(799, 599))
	center := fx.orig.Image.NRGBAAt(400, 300)
	assert.Equal(t, color.RGBA{R: center.R, G: center.G, B: center.B, A: 255}, got.RGBAAt(400, 300))

	// 模糊原图作为背景，主体不变
	blurred := GaussianBlur(clone.AsRGBA(fx.orig.Image), 5)
	got = render(t, r, fx.frame(background.NewBlur(5), compare.State{SplitPercent: 100}))
	assert.Equal(t, blurred.RGBAAt(10, 10), got.RGBAAt(10, 10))
	assert.Equal(t, blurred.RGBAAt(790, 590), got.RGBAAt(790, 590))
	assert.Equal(t, color.RGBA{R: center.R, G: center.G, B: center.B, A: 255}, got.RGBAAt(400, 300))
	composite := got

	// 对比 50%：右半边是原图，左半边是合成图，中间有分割线
	got = render(t, r, fx.frame(background.NewBlur(5), compare.State{Active: true, SplitPercent: 50}))
	origRGBA := clone.AsRGBA(fx.orig.Image)
	assert.Equal(t, origRGBA.RGBAAt(700, 20), got.RGBAAt(700, 20))
	assert.Equal(t, origRGBA.RGBAAt(450, 580), got.RGBAAt(450, 580))
	assert.Equal(t, composite.RGBAAt(100, 20), got.RGBAAt(100, 20))
	assert.Equal(t, composite.RGBAAt(350, 580), got.RGBAAt(350, 580))
	assert.Equal(t, white, got.RGBAAt(400, 20))
	assert.Equal(t, white, got.RGBAAt(399, 580))
	// 拖动柄中心有黑色箭头
	assert.Equal(t, color.RGBA{A: 255}, got.RGBAAt(391, 300))
	assert.Equal(t, color.RGBA{A: 255}, got.RGBAAt(408, 300))
	assert.Equal(t, white, got.RGBAAt(400, 292))
}

func TestRenderer_SplitExtremes(t *testing.T) {
	t.Parallel()

	fx := newFixture(64, 48)
	r := NewRenderer(nil)
	treatment := background.NewColor(color.NRGBA{R: 0x4A, G: 0x90, B: 0xE2, A: 0xFF})

	pure := render(t, r, fx.frame(treatment, compare.State{SplitPercent: 100}))

	got := render(t, r, fx.frame(treatment, compare.State{Active: true, SplitPercent: 0}))
	requireSamePixels(t, clone.AsRGBA(fx.orig.Image), got)

	got = render(t, r, fx.frame(treatment, compare.State{Active: true, SplitPercent: 100}))
	requireSamePixels(t, pure, got)
}

func TestRenderer_ToggleOffRestoresComposite(t *testing.T) {
	t.Parallel()

	fx := newFixture(64, 48)
	r := NewRenderer(nil)
	treatment := background.NewBlur(3)

	s := NewSurface()
	require.NoError(t, r.Render(s, fx.frame(treatment, compare.State{SplitPercent: 30})))
	pure := s.Snapshot()

	require.NoError(t, r.Render(s, fx.frame(treatment, compare.State{Active: true, SplitPercent: 30})))
	withStrip := s.Snapshot()
	assert.NotEqual(t, pure.Pix, withStrip.Pix)

	require.NoError(t, r.Render(s, fx.frame(treatment, compare.State{Active: false, SplitPercent: 30})))
	requireSamePixels(t, pure, s.Snapshot())

	// 相同输入重复绘制结果一致
	require.NoError(t, r.Render(s, fx.frame(treatment, compare.State{Active: false, SplitPercent: 30})))
	requireSamePixels(t, pure, s.Snapshot())
}

func TestRenderer_BlurZeroEqualsOriginalAsImage(t *testing.T) {
	t.Parallel()

	fx := newFixture(40, 30)
	r := NewRenderer(nil)

	blurred := render(t, r, fx.frame(background.NewBlur(0), compare.State{}))

	f := fx.frame(background.NewImage(fx.origRef), compare.State{})
	f.Background = fx.orig
	asImage := render(t, r, f)

	requireSamePixels(t, asImage, blurred)
}

func TestRenderer_ImageBackgroundStretched(t *testing.T) {
	t.Parallel()

	fx := newFixture(40, 30)
	r := NewRenderer(draw.NearestNeighbor)

	bgImg := image.NewNRGBA(image.Rect(0, 0, 200, 10))
	for i := 0; i < len(bgImg.Pix); i += 4 {
		copy(bgImg.Pix[i:], []byte{0xFF, 0x41, 0x36, 0xFF})
	}
	bgRef, bg := bitmap("sample", bgImg)

	f := fx.frame(background.NewImage(bgRef), compare.State{})
	f.Background = bg
	got := render(t, r, f)

	assert.Equal(t, image.Rect(0, 0, 40, 30), got.Bounds())
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0x41, B: 0x36, A: 0xFF}, got.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0x41, B: 0x36, A: 0xFF}, got.RGBAAt(39, 29))
}

func TestRenderer_MissingOrStaleLayersAreSkipped(t *testing.T) {
	t.Parallel()

	fx := newFixture(20, 20)
	r := NewRenderer(nil)
	wantRef, _ := bitmap("wanted", photo(20, 20))
	_, stale := bitmap("previous", photo(20, 20))

	tests := []struct {
		name  string
		frame Frame
	}{
		{name: "image not ready", frame: Frame{Foreground: fx.fg, Treatment: background.NewImage(wantRef)}},
		{name: "stale image", frame: Frame{Foreground: fx.fg, Background: stale, Treatment: background.NewImage(wantRef)}},
		{name: "blur without original", frame: Frame{Foreground: fx.fg, Treatment: background.NewBlur(2)}},
		{name: "compare without original", frame: Frame{Foreground: fx.fg, Compare: compare.State{Active: true, SplitPercent: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, r, tt.frame)
			// 背景透明，主体照常绘制
			assert.Equal(t, color.RGBA{}, got.RGBAAt(0, 0))
			assert.Equal(t, uint8(255), got.RGBAAt(10, 10).A)
		})
	}

	err := r.Render(NewSurface(), Frame{Original: fx.orig})
	assert.ErrorIs(t, err, ErrNoForeground)
}

func TestRenderer_NoAffordance(t *testing.T) {
	t.Parallel()

	fx := newFixture(64, 48)
	r := NewRenderer(nil)
	r.Affordance = false

	pure := render(t, r, fx.frame(background.Treatment{}, compare.State{}))
	got := render(t, r, fx.frame(background.Treatment{}, compare.State{Active: true, SplitPercent: 50}))

	origRGBA := clone.AsRGBA(fx.orig.Image)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			want := pure.RGBAAt(x, y)
			if x >= 32 {
				want = origRGBA.RGBAAt(x, y)
			}
			require.Equal(t, want, got.RGBAAt(x, y), "(%d,%d)", x, y)
		}
	}
}

func TestSplitColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		percent float64
		width   int
		want    int
	}{
		{percent: 0, width: 800, want: 0},
		{percent: 50, width: 800, want: 400},
		{percent: 100, width: 800, want: 800},
		{percent: 33.3, width: 10, want: 3},
		{percent: -5, width: 10, want: 0},
		{percent: 150, width: 10, want: 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitColumn(tt.percent, tt.width), "%v of %d", tt.percent, tt.width)
	}
}

func TestEncodePNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.ErrorIs(t, EncodePNG(&buf, NewSurface()), ErrEmptySurface)

	fx := newFixture(16, 8)
	s := NewSurface()
	require.NoError(t, NewRenderer(nil).Render(s, fx.frame(background.NewColor(color.White), compare.State{})))
	require.NoError(t, EncodePNG(&buf, s))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
}

func TestScalerByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "nearest", "approx-bilinear", "bilinear", "catmull-rom", "CatmullRom"} {
		s, err := ScalerByName(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, s, name)
	}
	_, err := ScalerByName("lanczos")
	assert.Error(t, err)
}

// 阶跃边缘模糊后，与理想阶跃之差的总面积为 sigma·√(2/π)
func TestGaussianBlur_Sigma(t *testing.T) {
	t.Parallel()

	for _, sigma := range []float64{5, 8} {
		img := image.NewRGBA(image.Rect(0, 0, 200, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 200; x++ {
				v := uint8(0)
				if x >= 100 {
					v = 255
				}
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}

		blurred := GaussianBlur(img, sigma)
		area := 0.0
		for x := 0; x < 200; x++ {
			v := float64(blurred.RGBAAt(x, 2).R) / 255
			if x >= 100 {
				v = 1 - v
			}
			area += v
		}
		assert.InDelta(t, sigma, area/math.Sqrt(2/math.Pi), 0.5, "sigma %v", sigma)
	}

	assert.Equal(t, clone.AsRGBA(photo(4, 4)), GaussianBlur(photo(4, 4), 0))
}
