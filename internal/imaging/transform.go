package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// JPEGQuality は保存時のJPEG品質。
const JPEGQuality = 85

// orientation はEXIFのOrientationタグを読み取る。
// EXIFが存在しない、または読めない場合は1（回転なし）を返す。
func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation はOrientationタグ3/6/8に従って画像を回転する。
// それ以外の値は変換しない。
func applyOrientation(img image.Image, o int) image.Image {
	switch o {
	case 3:
		return rotate180(img)
	case 6:
		return rotate90Clockwise(img)
	case 8:
		return rotate90CounterClockwise(img)
	default:
		return img
	}
}

// fitWithin はアスペクト比を保ったままmaxDim四方に収まるサイズを返す。拡大はしない。
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := int(float64(h)*float64(maxDim)/float64(w) + 0.5)
		return maxDim, max(nh, 1)
	}
	nw := int(float64(w)*float64(maxDim)/float64(h) + 0.5)
	return max(nw, 1), maxDim
}

// downscale はmaxDim四方に収まるよう縮小する。収まっている場合はそのまま返す。
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// flatten は透過部分を白で塗りつぶす。JPEGはアルファを持たないため。
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// encodeJPEG は品質85でJPEGにエンコードする。
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rotate90Clockwise(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90CounterClockwise(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
