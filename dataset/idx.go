package dataset

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// idxImages is the magic number of an IDX file of unsigned bytes in three dimensions.
const idxImages = 0x00000803

// LoadIDX reads images in the IDX format of MNIST and FashionMNIST. Pixels are scaled to [0, 1].
func LoadIDX(r io.Reader) (*Set, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading idx header")
	}
	if header[0] != idxImages {
		return nil, errors.Errorf("expected idx magic %#08x, got %#08x", idxImages, header[0])
	}
	n, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if n == 0 || rows == 0 || cols == 0 {
		return nil, errors.Errorf("idx file holds %d images of %d×%d pixels", n, rows, cols)
	}

	raw := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d images of %d×%d pixels", n, rows, cols)
	}
	backing := make([]float32, len(raw))
	for i, b := range raw {
		backing[i] = float32(b)
	}
	scale(backing)

	s, err := New(backing, n)
	if err != nil {
		return nil, err
	}
	s.Width, s.Height = cols, rows
	return s, nil
}

// WriteIDX writes s in the IDX format, quantizing every feature to a byte.
func WriteIDX(w io.Writer, s *Set) error {
	width, height := s.Width, s.Height
	if width*height != s.F {
		width, height = s.F, 1
	}
	header := [4]uint32{idxImages, uint32(s.N), uint32(height), uint32(width)}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return errors.WithStack(err)
	}
	data := s.X.Data().([]float32)
	raw := make([]byte, len(data))
	for i, v := range data {
		raw[i] = quantize(v)
	}
	_, err := w.Write(raw)
	return errors.WithStack(err)
}

func quantize(v float32) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return byte(v*255 + 0.5)
	}
}
