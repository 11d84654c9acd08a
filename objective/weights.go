package objective

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

var ErrDegenerateWeights = errors.New("normalized importance weights are not a probability vector")

// Replicate repeats every row of a (B, F) batch k times, keeping all copies of a row
// adjacent: row 0 k times, then row 1 k times, and so on.
func Replicate(batch *tensor.Dense, k int) (*tensor.Dense, error) {
	if k < 1 {
		return nil, errors.Wrapf(ErrSamples, "replicate %d times", k)
	}
	shp := batch.Shape()
	if shp.Dims() != 2 {
		return nil, errors.Errorf("replicate expects a matrix, got shape %v", shp)
	}
	rows, cols := shp[0], shp[1]
	retVal := tensor.New(tensor.WithShape(rows*k, cols), tensor.Of(batch.Dtype()))
	if err := replicateInto(retVal, batch, k); err != nil {
		return nil, err
	}
	return retVal, nil
}

func replicateInto(dst, src *tensor.Dense, k int) error {
	cols := src.Shape()[1]
	switch s := src.Data().(type) {
	case []float32:
		d, ok := dst.Data().([]float32)
		if !ok || len(d) != len(s)*k {
			return errors.Errorf("replicate: cannot write %d×%d float32 into %v %v", len(s)/cols, k, dst.Dtype(), dst.Shape())
		}
		for i := 0; i < len(s)/cols; i++ {
			row := s[i*cols : (i+1)*cols]
			for j := 0; j < k; j++ {
				copy(d[(i*k+j)*cols:], row)
			}
		}
	case []float64:
		d, ok := dst.Data().([]float64)
		if !ok || len(d) != len(s)*k {
			return errors.Errorf("replicate: cannot write %d×%d float64 into %v %v", len(s)/cols, k, dst.Dtype(), dst.Shape())
		}
		for i := 0; i < len(s)/cols; i++ {
			row := s[i*cols : (i+1)*cols]
			for j := 0; j < k; j++ {
				copy(d[(i*k+j)*cols:], row)
			}
		}
	default:
		return errors.Errorf("replicate: unsupported backing %T", s)
	}
	return nil
}

// Categorical draws an index with probability proportional to weights[i].
func Categorical(weights []float32, src rand.Source) (int, error) {
	w := make([]float64, len(weights))
	var total float32
	for i, v := range weights {
		if v < 0 || math32.IsNaN(v) || math32.IsInf(v, 0) {
			return -1, errors.Wrapf(ErrDegenerateWeights, "weight %d is %v", i, v)
		}
		w[i] = float64(v)
		total += v
	}
	if total <= 0 {
		return -1, errors.Wrapf(ErrDegenerateWeights, "weights sum to %v", total)
	}
	if len(w) == 1 {
		return 0, nil
	}
	return int(distuv.NewCategorical(w, src).Rand()), nil
}

// EffectiveSampleSize is 1/Σw² for a row of normalized importance weights. It ranges from
// 1 (one sample carries all the weight) to len(w) (uniform weights).
func EffectiveSampleSize(w []float32) float32 {
	sq := make([]float32, len(w))
	copy(sq, w)
	vecf32.Mul(sq, w)
	sum := vecf32.Sum(sq)
	if sum == 0 {
		return 0
	}
	return 1 / sum
}

// MeanEffectiveSampleSize averages EffectiveSampleSize over the rows of a row-major (rows, k) matrix.
func MeanEffectiveSampleSize(w []float32, k int) float32 {
	if k < 1 || len(w) < k {
		return 0
	}
	rows := len(w) / k
	ess := make([]float32, rows)
	for i := range ess {
		ess[i] = EffectiveSampleSize(w[i*k : (i+1)*k])
	}
	mean := vecf32.Sum(ess)
	return mean / float32(rows)
}
