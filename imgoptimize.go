// Optional image optimization for reader bundles: downscale and re-encode
// post images as JPEG so a converted post stays small on e-readers.
package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// optimizeOpts controls reader-mode image handling. Optimization stays off
// until -max-width is set; archives always keep original bytes.
type optimizeOpts struct {
	maxWidth int
	quality  int
}

func (o optimizeOpts) enabled() bool {
	return o.maxWidth > 0
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// flattenAlpha composites src onto a white background.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	white := image.NewUniform(color.White)
	draw.Draw(dst, b, white, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

// optimizeImage re-encodes an image as JPEG at the configured quality,
// downscaling by width when needed (never upscaling). Returns false for
// data that should be stored exactly as fetched: SVG, AVIF, animated GIF,
// and anything that fails to decode.
func optimizeImage(data []byte, mime string, opts optimizeOpts) ([]byte, bool) {
	if strings.Contains(mime, "svg") || strings.Contains(mime, "avif") {
		return nil, false
	}
	if strings.Contains(mime, "gif") && isAnimatedGIF(data) {
		return nil, false
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(out, "Warning: could not decode image (%s): %v\n", mime, err)
		return nil, false
	}

	// Flatten alpha onto white for JPEG
	flat := flattenAlpha(img)

	// Downscale by width only (never upscale)
	b := flat.Bounds()
	w, h := b.Dx(), b.Dy()
	var encImg image.Image = flat
	if w > opts.maxWidth {
		ratio := float64(opts.maxWidth) / float64(w)
		newH := int(math.Round(float64(h) * ratio))
		if newH < 1 {
			newH = 1
		}
		encImg = resize(flat, opts.maxWidth, newH)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, encImg, &jpeg.Options{Quality: opts.quality}); err != nil {
		fmt.Fprintf(out, "Warning: JPEG encode failed: %v\n", err)
		return nil, false
	}
	return buf.Bytes(), true
}

// stats tallies before/after byte counts for optimized images.
type stats struct {
	count          int
	originalTotal  int64
	optimizedTotal int64
}
