package segment

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	previewScale   = 8  // Size of one grid unit in the rendered image.
	previewCaption = 16 // Height of the text strip under the digits.
	gridW, gridH   = 27, 11
)

var (
	litColor   = color.RGBA{R: 0xff, G: 0x20, B: 0x10, A: 0xff}
	unlitColor = color.RGBA{R: 0x28, G: 0x08, B: 0x08, A: 0xff}
	background = color.RGBA{A: 0xff}
)

// segmentRects are the seven segments of a digit in grid units, relative to the digit's top-left
// corner.  A digit is 5 units wide and 9 tall.
var segmentRects = [7]image.Rectangle{
	image.Rect(1, 0, 4, 1), // a
	image.Rect(4, 1, 5, 4), // b
	image.Rect(4, 5, 5, 8), // c
	image.Rect(1, 8, 4, 9), // d
	image.Rect(0, 5, 1, 8), // e
	image.Rect(0, 1, 1, 4), // f
	image.Rect(1, 4, 4, 5), // g
}

// Digit positions, left to right, with the colon between the second and third.
var (
	digitOffsets = [4]int{1, 7, 15, 21}
	colonDots    = [2]image.Rectangle{image.Rect(13, 3, 14, 4), image.Rect(13, 6, 14, 7)}
)

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = image.Rect(r.Min.X*previewScale, r.Min.Y*previewScale, r.Max.X*previewScale, r.Max.Y*previewScale)
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// digitRune recovers the digit that a segment pattern shows, for the caption.
func digitRune(pattern byte) rune {
	for i, p := range digits {
		if p == pattern {
			return rune('0' + i)
		}
	}
	if pattern == 0 {
		return ' '
	}
	return '?'
}

// Image draws f as it would look on the display, with a text caption underneath.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, gridW*previewScale, gridH*previewScale+previewCaption))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	patterns := [4]byte{f.HourTens, f.HourOnes, f.MinuteTens, f.MinuteOnes}
	for i, p := range patterns {
		off := image.Pt(digitOffsets[i], 1)
		for seg, r := range segmentRects {
			c := unlitColor
			if p&(1<<seg) != 0 {
				c = litColor
			}
			fill(img, r.Add(off), c)
		}
	}
	for _, r := range colonDots {
		c := unlitColor
		if f.Colon {
			c = litColor
		}
		fill(img, r.Add(image.Pt(0, 1)), c)
	}

	sep := ' '
	if f.Colon {
		sep = ':'
	}
	caption := string([]rune{digitRune(f.HourTens), digitRune(f.HourOnes), sep, digitRune(f.MinuteTens), digitRune(f.MinuteOnes)})
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(previewScale, gridH*previewScale+previewCaption-4),
	}
	drawer.DrawString(caption)
	return img
}

// ServeHTTP serves the last frame written to the display as a PNG.
func (d *Dev) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	img := d.Frame().Image()
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		log.Printf("encoding image: %v", err)
	}
}
