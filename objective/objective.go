package objective

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model is a stochastic encoder/decoder over row-major batches.
//
// Encode maps a (N, F) batch to the (N, D) mean and log standard deviation of a diagonal
// Gaussian posterior. Decode maps (N, D) latents to (N, F) Bernoulli parameters.
type Model interface {
	Encode(x *G.Node) (mu, logstd *G.Node, err error)
	Reparameterize(mu, logstd *G.Node, deterministic bool) (*G.Node, error)
	Decode(z *G.Node) (*G.Node, error)
}

// LogRatioer is implemented by models whose log p(x, z) - log q(z|x) is not the single
// stochastic layer decomposition log p(z) + log p(x|z) - log q(z|x). raw is an N-vector,
// theta the (N, F) reconstruction.
type LogRatioer interface {
	LogRatio(x *G.Node, deterministic bool) (raw, theta *G.Node, err error)
}

// Objective is the loss of one batch as a gorgonia expression graph.
//
// The batch holds Batch observations of Features pixels. Each is replicated Samples times
// into X before encoding.
type Objective struct {
	Config
	Batch, Samples, Features int
	Test                     bool

	g *G.ExprGraph

	X          *G.Node // (Batch·Samples, Features)
	Raw        *G.Node // (Batch·Samples) log p(x,z) - log q(z|x); the aggregation reuses its memory, see Runner.RawValue
	Weights    *G.Node // log weight matrix; nil for the modes that do not normalize
	Normalized *G.Node // (Batch, Samples) self-normalized importance weights
	Selector   *G.Node // (Batch, Samples) one-hot rows; vralpha training only
	Loss       *G.Node // scalar
	Recon      *G.Node // (Batch·Samples, Features)

	lossVal  G.Value
	reconVal G.Value
}

// Build constructs the objective of model over a batch of the given size.
func Build(g *G.ExprGraph, model Model, conf Config, batch, features int, test bool) (*Objective, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if batch < 1 || features < 1 {
		return nil, errors.Errorf("cannot build an objective over %d observations of %d features", batch, features)
	}
	o := &Objective{
		Config:   conf,
		Batch:    batch,
		Samples:  conf.samples(test),
		Features: features,
		Test:     test,
		g:        g,
	}
	o.X = G.NewMatrix(g, Float, G.WithShape(batch*o.Samples, features), G.WithName("X"), G.WithInit(G.Zeroes()))

	var err error
	if o.Raw, o.Recon, err = logRatio(model, o.X, test); err != nil {
		return nil, err
	}
	if o.Loss, err = o.aggregate(); err != nil {
		return nil, err
	}
	G.Read(o.Loss, &o.lossVal)
	G.Read(o.Recon, &o.reconVal)
	return o, nil
}

// logRatio assembles the per-sample log importance weight of the replicated batch x.
func logRatio(model Model, x *G.Node, deterministic bool) (raw, theta *G.Node, err error) {
	if lr, ok := model.(LogRatioer); ok {
		return lr.LogRatio(x, deterministic)
	}

	var mu, logstd, z *G.Node
	if mu, logstd, err = model.Encode(x); err != nil {
		return nil, nil, errors.WithMessage(err, "encode")
	}
	if z, err = model.Reparameterize(mu, logstd, deterministic); err != nil {
		return nil, nil, errors.WithMessage(err, "reparameterize")
	}
	var logQ, logPz, logP *G.Node
	if logQ, err = LogDensityGaussian(z, mu, logstd); err != nil {
		return nil, nil, err
	}
	if logPz, err = LogDensityStdNormal(z); err != nil {
		return nil, nil, err
	}
	if theta, err = model.Decode(z); err != nil {
		return nil, nil, errors.WithMessage(err, "decode")
	}
	if logP, err = LogDensityBernoulli(theta, x); err != nil {
		return nil, nil, err
	}

	var m maebe
	raw = m.do(func() (*G.Node, error) { return G.Add(logPz, logP) })
	raw = m.do(func() (*G.Node, error) { return G.Sub(raw, logQ) })
	return raw, theta, m.err
}

// aggregate turns Raw into the scalar loss according to the mode.
func (o *Objective) aggregate() (*G.Node, error) {
	var m maebe
	mode := o.Mode
	if o.Test {
		mode = IWAE
	}

	switch mode {
	case VAE:
		// every replica is an independent term weighted 1/K: -Σ raw/K
		scaled := m.scale(o.Raw, 1/float64(o.Samples))
		return o.negSum(&m, scaled)
	case VRMax:
		w := m.reshape(o.Raw, tensor.Shape{o.Batch, o.Samples})
		max := m.do(func() (*G.Node, error) { return G.Max(w, 1) })
		return o.negSum(&m, max)
	}

	w := m.reshape(o.Raw, tensor.Shape{o.Batch, o.Samples})
	if mode.UsesAlpha() {
		w = m.scale(w, 1-o.Alpha)
	}
	o.Weights = w

	// log-sum-exp: after subtracting the row max every row holds a 0, so each row sum is ≥ 1
	max := m.rowMax(w)
	stable := m.do(func() (*G.Node, error) { return G.BroadcastSub(w, max, nil, []byte{1}) })
	ws := m.do(func() (*G.Node, error) { return G.Exp(stable) })
	total := m.reshape(m.rowSum(ws), tensor.Shape{o.Batch, 1})
	o.Normalized = m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(ws, total, nil, []byte{1}) })

	weighting := o.Normalized
	if mode == VRAlpha {
		o.Selector = G.NewMatrix(o.g, Float, G.WithShape(o.Batch, o.Samples), G.WithName("Selector"), G.WithInit(G.Zeroes()))
		weighting = o.Selector
	}
	prod := m.do(func() (*G.Node, error) { return G.HadamardProd(w, weighting) })
	agg := m.rowSum(prod)
	if mode.UsesAlpha() {
		agg = m.do(func() (*G.Node, error) { return G.HadamardDiv(agg, scalar(1-o.Alpha)) })
	}
	return o.negSum(&m, agg)
}

func (o *Objective) negSum(m *maebe, v *G.Node) (*G.Node, error) {
	sum := m.do(func() (*G.Node, error) { return G.Sum(v) })
	retVal := m.do(func() (*G.Node, error) { return G.Neg(sum) })
	if m.err != nil {
		return nil, errors.WithMessage(m.err, o.Mode.String())
	}
	return retVal, nil
}

// Let replicates a (Batch, Features) batch into X.
func (o *Objective) Let(batch *tensor.Dense) error {
	if shp := batch.Shape(); shp.Dims() != 2 || shp[0] != o.Batch || shp[1] != o.Features {
		return errors.Errorf("expected a batch of shape (%d, %d), got %v", o.Batch, o.Features, batch.Shape())
	}
	xs, ok := o.X.Value().(*tensor.Dense)
	if !ok {
		return errors.Errorf("X holds %T", o.X.Value())
	}
	if err := replicateInto(xs, batch, o.Samples); err != nil {
		return err
	}
	return errors.WithStack(G.Let(o.X, xs))
}

// NeedsResampling is true when the forward value depends on a categorical draw over the
// normalized weights, which must be made (by Resample) before the full graph runs.
func (o *Objective) NeedsResampling() bool { return o.Selector != nil }

// SelectionGraph is the part of the graph needed to compute the normalized weights.
func (o *Objective) SelectionGraph() *G.ExprGraph {
	return o.g.SubgraphRoots(o.Normalized)
}

// Resample draws one sample index per row from the computed normalized weights and
// writes the one-hot result into Selector. The index is an input to the graph, so no
// gradient flows through the draw itself.
func (o *Objective) Resample(src rand.Source) error {
	if !o.NeedsResampling() {
		return nil
	}
	norm, err := o.NormalizedWeights()
	if err != nil {
		return err
	}
	sel, ok := o.Selector.Value().(*tensor.Dense)
	if !ok {
		return errors.Errorf("Selector holds %T", o.Selector.Value())
	}
	sel.Zero()
	for i := 0; i < o.Batch; i++ {
		row := norm[i*o.Samples : (i+1)*o.Samples]
		k, err := Categorical(row, src)
		if err != nil {
			return errors.WithMessagef(err, "row %d", i)
		}
		if err = sel.SetAt(float32(1), i, k); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(G.Let(o.Selector, sel))
}

// NormalizedWeights returns the last computed normalized weights in row-major order.
func (o *Objective) NormalizedWeights() ([]float32, error) {
	if o.Normalized == nil {
		return nil, errors.Errorf("mode %v does not normalize its weights", o.Mode)
	}
	v := o.Normalized.Value()
	if v == nil {
		return nil, errors.New("normalized weights have not been computed")
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("normalized weights are %T", v.Data())
	}
	return data, nil
}

// LossValue is the loss of the last run.
func (o *Objective) LossValue() float32 {
	if o.lossVal == nil {
		return 0
	}
	return o.lossVal.Data().(float32)
}

// Reconstruction is the (Batch·Samples, Features) decoded batch of the last run.
func (o *Objective) Reconstruction() *tensor.Dense {
	if o.reconVal == nil {
		return nil
	}
	t, _ := o.reconVal.(*tensor.Dense)
	return t
}

// Graph returns the graph the objective lives in.
func (o *Objective) Graph() *G.ExprGraph { return o.g }
