package objective

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Runner executes an Objective. It holds a VM over the whole graph, and, when the
// objective resamples, a second VM over the selection subgraph.
type Runner struct {
	o     *Objective
	noise *Noise
	src   rand.Source

	m   G.VM
	sel G.VM
	raw G.VM // built on the first call to RawValue
}

// NewRunner creates the VMs for o. opts are passed to the VM of the full graph.
func NewRunner(o *Objective, noise *Noise, src rand.Source, opts ...G.VMOpt) *Runner {
	r := &Runner{
		o:     o,
		noise: noise,
		src:   src,
		m:     G.NewTapeMachine(o.g, opts...),
	}
	if o.NeedsResampling() {
		r.sel = G.NewTapeMachine(o.SelectionGraph())
	}
	return r
}

// Run computes the loss of batch. Gradients, if the graph has any, are left in the
// dual values of the learnables until the next Run.
func (r *Runner) Run(batch *tensor.Dense) (float32, error) {
	if err := r.o.Let(batch); err != nil {
		return 0, err
	}
	if r.noise != nil {
		if err := r.noise.Refill(); err != nil {
			return 0, err
		}
	}
	if r.sel != nil {
		r.sel.Reset()
		if err := r.sel.RunAll(); err != nil {
			return 0, errors.WithMessage(err, "selection pass")
		}
		if err := r.o.Resample(r.src); err != nil {
			return 0, err
		}
	}
	r.m.Reset()
	if err := r.m.RunAll(); err != nil {
		return 0, errors.WithStack(err)
	}
	return r.o.LossValue(), nil
}

// RawValue recomputes the raw log weights of the last batch, one per replicated observation,
// from the inputs of the last Run and the current learnables. The full graph cannot provide
// them, because its aggregation overwrites Raw in place.
func (r *Runner) RawValue() ([]float32, error) {
	if r.raw == nil {
		r.raw = G.NewTapeMachine(r.o.g.SubgraphRoots(r.o.Raw))
	}
	r.raw.Reset()
	if err := r.raw.RunAll(); err != nil {
		return nil, errors.WithMessage(err, "raw log weights")
	}
	v := r.o.Raw.Value()
	if v == nil {
		return nil, errors.New("raw log weights have not been computed")
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("raw log weights are %T", v.Data())
	}
	retVal := make([]float32, len(data))
	copy(retVal, data)
	return retVal, nil
}

// Objective returns the objective being run.
func (r *Runner) Objective() *Objective { return r.o }

// Close implements a closer, because a gorgonia VM is a resource.
func (r *Runner) Close() error {
	var errs manyErr
	if err := r.m.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, m := range []G.VM{r.sel, r.raw} {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type manyErr []error

func (err manyErr) Error() string {
	var s string
	for _, e := range err {
		s += e.Error() + "\n"
	}
	return s
}
