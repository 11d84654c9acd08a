package mjpeg

import (
	"bytes"
	"image/jpeg"
	"net/http"

	"github.com/gorgonia/renyi"
	"github.com/gorgonia/renyi/encoding"
	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Encoder is a structure that encodes snapshots according to the renyi.OutputEncoder
// interface. The latest snapshot is served as a motion JPEG stream.
type Encoder struct {
	*encoding.Renderer

	stream *mjpeg.Stream
	last   []byte
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder creates an encoder that upscales every observation by scale.
func NewEncoder(scale int) *Encoder {
	return &Encoder{
		Renderer: encoding.NewRenderer(scale),
		stream:   mjpeg.NewStream(),
	}
}

// Encode a snapshot and push it to the viewers.
func (enc *Encoder) Encode(s renyi.Snapshot) error {
	im := enc.Render(s)
	var b bytes.Buffer
	if err := jpeg.Encode(&b, im, &jpeg.Options{Quality: 90}); err != nil {
		log.Error().Err(err).Msg("Encoding frame")
		return errors.WithStack(err)
	}
	enc.last = b.Bytes()
	if err := enc.stream.Update(enc.last); err != nil {
		log.Error().Err(err).Msg("Updating stream")
		return errors.WithStack(err)
	}
	return nil
}

// Last returns the latest JPEG frame, or nil if nothing was encoded.
func (enc *Encoder) Last() []byte { return enc.last }

func (enc *Encoder) Flush() error { return nil }
