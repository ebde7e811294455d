package compose

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ScalerByName nearest / approx-bilinear / bilinear / catmull-rom
func ScalerByName(name string) (draw.Scaler, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return draw.NearestNeighbor, nil
	case "approx-bilinear":
		return draw.ApproxBiLinear, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "", "catmull-rom", "catmullrom":
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown scaler %q", name)
	}
}

// stretch 把 src 拉伸铺满 r（不保持宽高比）；尺寸一致时直接拷贝
func stretch(scaler draw.Scaler, dst draw.Image, r image.Rectangle, src image.Image, op draw.Op) {
	sb := src.Bounds()
	if sb.Dx() == r.Dx() && sb.Dy() == r.Dy() {
		draw.Draw(dst, r, src, sb.Min, op)
		return
	}
	scaler.Scale(dst, r, src, sb, op, nil)
}
