package vae

import (
	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trainer holds a training *Net, the VM that computes its loss and gradients, and an Adam solver.
type Trainer struct {
	net    *Net
	r      *objective.Runner
	model  []G.ValueGrad
	solver G.Solver
}

// Train creates a trainer for d. A positive clip clips every gradient to [-clip, clip].
func Train(d *Net, learnRate, clip float64) (*Trainer, error) {
	if d.FwdOnly {
		return nil, errors.New("cannot train a fwd only net")
	}
	if d.obj == nil {
		return nil, errors.New("net has not been initialized")
	}
	if learnRate <= 0 {
		return nil, errors.Errorf("learn rate must be positive, got %v", learnRate)
	}
	opts := []G.SolverOpt{G.WithLearnRate(learnRate)}
	if clip > 0 {
		opts = append(opts, G.WithClip(clip))
	}
	return &Trainer{
		net:    d,
		r:      d.Runner(G.BindDualValues(d.learnables...)),
		model:  G.NodesToValueGrads(d.learnables),
		solver: G.NewAdamSolver(opts...),
	}, nil
}

// Step computes the loss of batch and takes one optimization step. It returns the loss before the step.
func (t *Trainer) Step(batch *tensor.Dense) (float32, error) {
	loss, err := t.r.Run(batch)
	if err != nil {
		return 0, err
	}
	if err = t.solver.Step(t.model); err != nil {
		return 0, errors.WithStack(err)
	}
	return loss, nil
}

// Net returns the net being trained.
func (t *Trainer) Net() *Net { return t.net }

// Close implements a closer, because a gorgonia VM is a resource.
func (t *Trainer) Close() error { return t.r.Close() }
