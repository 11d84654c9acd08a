// Package dataset loads image datasets as (N, F) float32 matrices with pixels in [0, 1].
package dataset

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Set is a dataset of N observations of F features, stored row-major in X.
type Set struct {
	X             *tensor.Dense
	N, F          int
	Width, Height int // image size, if known; Width*Height == F
}

// New creates a set from a row-major backing of n observations.
func New(backing []float32, n int) (*Set, error) {
	if n < 1 || len(backing)%n != 0 {
		return nil, errors.Errorf("cannot split %d values into %d observations", len(backing), n)
	}
	f := len(backing) / n
	return &Set{
		X: tensor.New(tensor.WithShape(n, f), tensor.WithBacking(backing)),
		N: n,
		F: f,
	}, nil
}

// Open loads a dataset from path. Files ending in .csv (optionally followed by .gz) are read
// with LoadCSV, everything else with LoadIDX. Gzip compression is detected from the content.
func Open(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	r, err := decompress(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	var s *Set
	if filepath.Ext(name) == ".csv" {
		s, err = LoadCSV(r)
	} else {
		s, err = LoadIDX(r)
	}
	return s, errors.WithMessage(err, path)
}

func decompress(r *bufio.Reader) (io.Reader, error) {
	magic, err := r.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(r)
	}
	return r, nil
}

// Row returns the features of observation i. The returned slice aliases X.
func (s *Set) Row(i int) []float32 {
	data := s.X.Data().([]float32)
	return data[i*s.F : (i+1)*s.F]
}

// Binarize sets every feature greater than threshold to 1 and every other feature to 0.
func (s *Set) Binarize(threshold float32) {
	data := s.X.Data().([]float32)
	for i, v := range data {
		if v > threshold {
			data[i] = 1
		} else {
			data[i] = 0
		}
	}
}

// Shuffle permutes the observations in place.
func (s *Set) Shuffle(r *rand.Rand) {
	tmp := make([]float32, s.F)
	r.Shuffle(s.N, func(i, j int) {
		rowI, rowJ := s.Row(i), s.Row(j)
		copy(tmp, rowI)
		copy(rowI, rowJ)
		copy(rowJ, tmp)
	})
}

// Batch copies observations [i*size, (i+1)*size) into a new (size, F) matrix.
func (s *Set) Batch(i, size int) (*tensor.Dense, error) {
	start, end := i*size, (i+1)*size
	if size < 1 || start < 0 || end > s.N {
		return nil, errors.Errorf("batch %d of size %d is out of range of %d observations", i, size, s.N)
	}
	data := s.X.Data().([]float32)
	backing := make([]float32, size*s.F)
	copy(backing, data[start*s.F:end*s.F])
	return tensor.New(tensor.WithShape(size, s.F), tensor.WithBacking(backing)), nil
}

// Batches is the number of full batches of the given size. The observations that do not fill a
// batch are never visited until the set is shuffled.
func (s *Set) Batches(size int) int {
	if size < 1 {
		return 0
	}
	return s.N / size
}

// Head returns a set sharing the first n observations of s.
func (s *Set) Head(n int) (*Set, error) {
	if n < 1 || n > s.N {
		return nil, errors.Errorf("cannot take %d of %d observations", n, s.N)
	}
	data := s.X.Data().([]float32)
	retVal, err := New(data[:n*s.F], n)
	if err != nil {
		return nil, err
	}
	retVal.Width, retVal.Height = s.Width, s.Height
	return retVal, nil
}

// scale maps byte valued pixels into [0, 1].
func scale(data []float32) {
	for i := range data {
		data[i] /= 255
	}
}
