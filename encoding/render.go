// Package encoding renders snapshots of a run as captioned image grids.
package encoding

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/renyi"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 9.0
	lineheight      = 1.2
	dummyLongString = `general_alpha α=-500, epoch 10000`
	perRow          = 8 // images per row
	gap             = 2 // pixels between images
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Palette is 256 shades of gray, black to white.
var Palette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{uint8(i)}
	}
	return p
}()

// Renderer draws a snapshot as three captioned sections: the originals, their
// reconstructions, and the decoded prior samples. The size of the frame is fixed by the
// first snapshot rendered.
type Renderer struct {
	H, W  int
	Scale int // every pixel of an observation is drawn as a Scale×Scale block
	font.Drawer

	face        font.Face
	padH, padW  int // padding so everything don't start at the topleft
	dy          int
	initialized bool
}

// NewRenderer creates a renderer that upscales observations by scale.
func NewRenderer(scale int) *Renderer {
	if scale < 1 {
		scale = 1
	}
	return &Renderer{
		H:     -1,
		W:     -1,
		Scale: scale,
		padH:  10,
		padW:  10,
		Drawer: font.Drawer{
			Src: image.Black,
		},
	}
}

// side returns the width and height of an observation of f features.
func side(s renyi.Snapshot, f int) (w, h int) {
	if s.Width > 0 && s.Height > 0 && s.Width*s.Height == f {
		return s.Width, s.Height
	}
	if sq := int(math.Sqrt(float64(f))); sq*sq == f {
		return sq, sq
	}
	return f, 1
}

func features(s renyi.Snapshot) int {
	for _, rows := range [][][]float32{s.Originals, s.Reconstructions, s.Samples} {
		if len(rows) > 0 {
			return len(rows[0])
		}
	}
	return 0
}

func rowsOf(n int) int { return (n + perRow - 1) / perRow }

func (r *Renderer) init(s renyi.Snapshot) {
	r.face = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	r.Drawer.Face = r.face
	r.dy = int(math.Ceil(fontsize * lineheight * dpi / 72))

	w, h := side(s, features(s))
	cellW, cellH := w*r.Scale+gap, h*r.Scale+gap
	gridRows := rowsOf(len(s.Originals)) + rowsOf(len(s.Reconstructions)) + rowsOf(len(s.Samples))

	textW := font.MeasureString(r.face, dummyLongString).Ceil()
	r.W = maxInt(perRow*cellW, textW) + 2*r.padW
	r.H = 2*r.dy + 3*r.dy + gridRows*cellH + 2*r.padH // 2 caption lines, 3 section headers
	r.initialized = true
}

// Render draws s.
func (r *Renderer) Render(s renyi.Snapshot) *image.Paletted {
	if !r.initialized {
		r.init(s)
	}
	im := image.NewPaletted(image.Rect(0, 0, r.W, r.H), Palette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	r.Dst = im

	y := r.padH + r.dy
	r.text(s.Name, y)
	y += r.dy
	caption := fmt.Sprintf("%v, epoch %d, loss %.3f, ess %.2f", s.Mode, s.Epoch, s.Loss, s.ESS)
	r.text(caption, y)

	f := features(s)
	w, h := side(s, f)
	sections := []struct {
		name string
		rows [][]float32
	}{
		{"data", s.Originals},
		{"reconstructions", s.Reconstructions},
		{"samples", s.Samples},
	}
	for _, sec := range sections {
		y += r.dy
		r.text(sec.name, y)
		y += r.dy / 3
		for i, obs := range sec.rows {
			x := r.padW + (i%perRow)*(w*r.Scale+gap)
			top := y + (i/perRow)*(h*r.Scale+gap)
			r.observation(im, obs, w, h, image.Rect(x, top, x+w*r.Scale, top+h*r.Scale))
		}
		y += rowsOf(len(sec.rows)) * (h*r.Scale + gap)
	}
	return im
}

func (r *Renderer) text(s string, y int) {
	r.Dot = fixed.P(r.padW, y)
	r.DrawString(s)
}

// observation draws one observation, scaled into dst.
func (r *Renderer) observation(im draw.Image, obs []float32, w, h int, dst image.Rectangle) {
	src := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range obs {
		if i >= w*h {
			break
		}
		src.Pix[i] = intensity(v)
	}
	draw.NearestNeighbor.Scale(im, dst, src, src.Bounds(), draw.Src, nil)
}

// intensity maps a Bernoulli parameter in [0, 1] to a gray level. 1 is black ink on the white page.
func intensity(v float32) uint8 {
	switch {
	case v != v || v <= 0:
		return 255
	case v >= 1:
		return 0
	default:
		return 255 - uint8(v*255+0.5)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
