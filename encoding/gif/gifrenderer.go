package gif

import (
	"image/gif"
	"io"

	"github.com/gorgonia/renyi"
	"github.com/gorgonia/renyi/encoding"
	"github.com/pkg/errors"
)

// Encoder is a structure that encodes snapshots according to the renyi.OutputEncoder
// interface. Every snapshot is a frame of an animated GIF, written out on Flush.
type Encoder struct {
	io.Writer
	*encoding.Renderer

	out   *gif.GIF
	delay int // delay of every frame, in 100ths of a second
}

// NewGifEncoder creates an encoder that upscales every observation by scale.
func NewGifEncoder(scale int) *Encoder {
	return &Encoder{
		Renderer: encoding.NewRenderer(scale),
		out:      &gif.GIF{LoopCount: 0},
		delay:    50,
	}
}

// Encode a snapshot as the next frame.
func (enc *Encoder) Encode(s renyi.Snapshot) error {
	im := enc.Render(s)
	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, enc.delay)
	return nil
}

// Frames returns the number of frames encoded so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if enc.Writer == nil {
		return errors.New("gif encoder has no writer")
	}
	if len(enc.out.Image) == 0 {
		return nil
	}
	// the last frame lingers
	enc.out.Delay[len(enc.out.Delay)-1] = 6 * enc.delay
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
