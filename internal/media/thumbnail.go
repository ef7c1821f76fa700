package media

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const thumbMaxSide = 256

// thumbMaxPixels bounds the decode. Small compressed files can declare
// huge dimensions, and decoding allocates for every pixel.
var thumbMaxPixels = 40_000_000

// thumbnail scales decodable images so the longest side is at most
// thumbMaxSide. ok is false for anything that is not an image or that is
// larger than thumbMaxPixels.
func thumbnail(data []byte, asPNG bool) (out []byte, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, false
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(thumbMaxPixels) {
		return nil, false
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, false
	}
	if w > thumbMaxSide || h > thumbMaxSide {
		if w >= h {
			w, h = thumbMaxSide, max(1, h*thumbMaxSide/w)
		} else {
			w, h = max(1, w*thumbMaxSide/h), thumbMaxSide
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if asPNG {
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80})
	}
	if err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
