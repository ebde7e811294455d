package compose

import (
	"image"
	"image/color"

	"golang.org/x/image/vector"
)

const (
	dividerWidth = 2
	handleRadius = 10
	chevronInset = 5
	chevronSize  = 5

	// 四段三次贝塞尔近似圆
	circleK = 0.5522847498
)

// drawAffordance 在 x 处画分割线、居中的圆形拖动柄和左右箭头
func drawAffordance(dst *image.RGBA, x int) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	fx, fh := float32(x), float32(h)
	cy := fh / 2

	z := vector.NewRasterizer(w, h)

	half := float32(dividerWidth) / 2
	z.MoveTo(fx-half, 0)
	z.LineTo(fx+half, 0)
	z.LineTo(fx+half, fh)
	z.LineTo(fx-half, fh)
	z.ClosePath()

	addCircle(z, fx, cy, handleRadius)
	z.Draw(dst, b, image.NewUniform(color.White), image.Point{})

	z.Reset(w, h)
	z.MoveTo(fx-chevronInset, cy)
	z.LineTo(fx-chevronInset-chevronSize, cy-chevronSize)
	z.LineTo(fx-chevronInset-chevronSize, cy+chevronSize)
	z.ClosePath()
	z.MoveTo(fx+chevronInset, cy)
	z.LineTo(fx+chevronInset+chevronSize, cy+chevronSize)
	z.LineTo(fx+chevronInset+chevronSize, cy-chevronSize)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(color.Black), image.Point{})
}

// addCircle 顺时针（y 轴向下）添加圆路径，与分割线方向一致以免面积抵消
func addCircle(z *vector.Rasterizer, cx, cy, r float32) {
	k := float32(circleK) * r
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
	z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
	z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
	z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	z.ClosePath()
}
