package vae

import (
	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// Evaluator holds a fwd only copy of a trained *Net and a VM. By using an Evaluator there is no
// longer a need to build a graph every time the test loss is computed.
type Evaluator struct {
	src *Net
	d   *Net
	r   *objective.Runner
}

// Evaluate creates a fwd only clone of d over batches of batchSize observations, evaluated with
// the test objective. The prior latents are drawn from src, so that building an evaluator leaves
// the random stream of d untouched.
func Evaluate(d *Net, batchSize int, src rand.Source) (*Evaluator, error) {
	if src == nil {
		src = rand.NewSource(0)
	}
	conf := d.Config
	conf.FwdOnly = true
	conf.BatchSize = batchSize
	clone, err := d.Clone(conf, src)
	if err != nil {
		return nil, err
	}
	if clone.prior != nil {
		normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		t := clone.prior.Value().(*tensor.Dense)
		data := t.Data().([]float32)
		for i := range data {
			data[i] = float32(normal.Rand())
		}
		if err := G.Let(clone.prior, t); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &Evaluator{
		src: d,
		d:   clone,
		r:   clone.Runner(),
	}, nil
}

// Sync copies the current learnables of the trained net into the evaluator.
func (e *Evaluator) Sync() error { return copyLearnables(e.d.learnables, e.src.learnables) }

// Loss returns the test loss of batch, summed over its observations.
func (e *Evaluator) Loss(batch *tensor.Dense) (float32, error) { return e.r.Run(batch) }

// Reconstructions returns the decoded observations of the last batch, one row per observation.
// All importance samples of an observation decode the posterior mean, so the first is returned.
func (e *Evaluator) Reconstructions() [][]float32 {
	recon := e.d.obj.Reconstruction()
	if recon == nil {
		return nil
	}
	return rows(recon, e.d.obj.Samples)
}

// Samples returns the decoded prior draws of the last run, one row per draw.
func (e *Evaluator) Samples() [][]float32 {
	t, ok := e.d.sampleVal.(*tensor.Dense)
	if !ok {
		return nil
	}
	return rows(t, 1)
}

// rows copies every step-th row out of the matrix t.
func rows(t *tensor.Dense, step int) [][]float32 {
	mat, err := native.MatrixF32(t)
	if err != nil {
		return nil
	}
	retVal := make([][]float32, 0, len(mat)/step)
	for i := 0; i < len(mat); i += step {
		row := make([]float32, len(mat[i]))
		copy(row, mat[i])
		retVal = append(retVal, row)
	}
	return retVal
}

// ESS returns the mean effective sample size of the importance weights of the last batch.
func (e *Evaluator) ESS() (float32, error) {
	w, err := e.d.obj.NormalizedWeights()
	if err != nil {
		return 0, err
	}
	return objective.MeanEffectiveSampleSize(w, e.d.obj.Samples), nil
}

// Net returns the fwd only net being evaluated.
func (e *Evaluator) Net() *Net { return e.d }

// Close implements a closer, because a gorgonia VM is a resource.
func (e *Evaluator) Close() error { return e.r.Close() }
