package vae

import (
	"bytes"
	"encoding/gob"

	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Net is a variational autoencoder together with the objective it is trained or evaluated on.
//
// A training net holds the gradients of the loss with respect to its learnables. A FwdOnly net
// evaluates the test objective, and decodes PriorSamples latents drawn from the prior.
type Net struct {
	Config
	Obj objective.Config

	g          *G.ExprGraph
	src        rand.Source
	noise      *objective.Noise
	model      generator
	learnables G.Nodes
	obj        *objective.Objective

	prior     *G.Node
	samples   *G.Node
	sampleVal G.Value
}

// New returns a new, uninitialized *Net. All randomness of the net, from the initial weights to
// the noise of every run, is drawn from src.
func New(conf Config, obj objective.Config, src rand.Source) *Net {
	if src == nil {
		src = rand.NewSource(0)
	}
	return &Net{
		Config: conf,
		Obj:    obj,
		src:    src,
	}
}

func (n *Net) Init() error {
	if err := n.Validate(); err != nil {
		return err
	}
	if err := n.Obj.Validate(); err != nil {
		return err
	}
	n.reset()
	n.g = G.NewGraph()
	n.noise = objective.NewNoise(n.src)

	b := &builder{g: n.g, src: n.src}
	switch n.Layers {
	case 1:
		n.model = newShallow(b, n.Config, n.noise)
	case 2:
		n.model = newDeep(b, n.Config, n.noise)
	}
	n.learnables = b.learnables

	var err error
	if n.obj, err = objective.Build(n.g, n.model, n.Obj, n.BatchSize, n.Features, n.FwdOnly); err != nil {
		return err
	}
	if n.FwdOnly {
		return n.fwdPrior()
	}
	if _, err = G.Grad(n.obj.Loss, n.learnables...); err != nil {
		return errors.WithMessage(err, "symbolic differentiation")
	}
	return nil
}

func (n *Net) fwdPrior() (err error) {
	if n.PriorSamples == 0 {
		return nil
	}
	n.prior = G.NewMatrix(n.g, objective.Float, G.WithShape(n.PriorSamples, n.Latent), G.WithName("Prior"), G.WithInit(G.Zeroes()))
	if n.samples, err = n.model.Generate(n.prior); err != nil {
		return errors.WithMessage(err, "prior samples")
	}
	G.Read(n.samples, &n.sampleVal)
	return nil
}

// Learnables returns the weights and biases of the network in creation order.
func (n *Net) Learnables() G.Nodes { return n.learnables }

// Objective returns the objective the net was built with.
func (n *Net) Objective() *objective.Objective { return n.obj }

// Graph returns the expression graph of the net.
func (n *Net) Graph() *G.ExprGraph { return n.g }

// Runner creates a runner for the objective of the net. opts are passed to the VM.
func (n *Net) Runner(opts ...G.VMOpt) *objective.Runner {
	return objective.NewRunner(n.obj, n.noise, n.src, opts...)
}

// Clone creates a new net with the given configuration and copies the learnables of n into it.
// The two networks must have the same architecture. The clone draws its randomness from src,
// never from the source of n.
func (n *Net) Clone(conf Config, src rand.Source) (*Net, error) {
	n2 := New(conf, n.Obj, src)
	if err := n2.Init(); err != nil {
		return nil, err
	}
	if err := copyLearnables(n2.learnables, n.learnables); err != nil {
		return nil, err
	}
	return n2, nil
}

func copyLearnables(dst, src G.Nodes) error {
	if len(dst) != len(src) {
		return errors.Errorf("cannot copy %d learnables into %d", len(src), len(dst))
	}
	for i, s := range src {
		if !s.Shape().Eq(dst[i].Shape()) {
			return errors.Errorf("learnable %v has shape %v, %v has %v", s, s.Shape(), dst[i], dst[i].Shape())
		}
		original := s.Value().Data().([]float32)
		cloned := dst[i].Value().Data().([]float32)
		copy(cloned, original)
	}
	return nil
}

func (n *Net) reset() {
	n.g = nil
	n.noise = nil
	n.model = nil
	n.learnables = nil
	n.obj = nil
	n.prior = nil
	n.samples = nil
	n.sampleVal = nil
}

func (n *Net) GobEncode() (retVal []byte, err error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, l := range n.learnables {
		v := l.Value()
		if err = enc.Encode(&v); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf.Bytes(), nil
}

func (n *Net) GobDecode(p []byte) error {
	if n.src == nil {
		n.src = rand.NewSource(0)
	}
	if err := n.Init(); err != nil {
		return err
	}

	buf := bytes.NewBuffer(p)
	dec := gob.NewDecoder(buf)
	for _, l := range n.learnables {
		var v G.Value
		if err := dec.Decode(&v); err != nil {
			return errors.WithStack(err)
		}
		if t, ok := v.(tensor.Tensor); !ok || !t.Shape().Eq(l.Shape()) {
			return errors.Errorf("decoded %v does not fit learnable %v of shape %v", v, l, l.Shape())
		}
		if err := G.Let(l, v); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
