package vae

import (
	"math"

	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// dense is a fully connected layer. The bias is a (1, units) row broadcast over the batch, so
// the learnables do not depend on the batch size.
type dense struct {
	w, b *G.Node
}

func (m *maebe) linear(input *G.Node, l dense) *G.Node {
	if m.err != nil {
		return nil
	}
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, l.w) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, l.b, nil, []byte{0}) })
}

func (m *maebe) tanh(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(input) })
}

func (m *maebe) sigmoid(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sigmoid(input) })
}

// mlp is a stack of tanh layers.
type mlp []dense

func (m *maebe) mlp(input *G.Node, layers mlp) *G.Node {
	h := input
	for _, l := range layers {
		h = m.tanh(m.linear(h, l))
	}
	return h
}

// gaussian maps a hidden layer to the mean and log standard deviation of a diagonal Gaussian.
type gaussian struct {
	mu, logstd dense
}

func (m *maebe) gaussian(input *G.Node, q gaussian) (mu, logstd *G.Node) {
	return m.linear(input, q.mu), m.linear(input, q.logstd)
}

// builder creates the learnables of a network, in a fixed order, with Glorot uniform weights
// drawn from a seeded source.
type builder struct {
	g          *G.ExprGraph
	src        rand.Source
	learnables G.Nodes
}

func (b *builder) dense(in, out int, name string) dense {
	limit := math.Sqrt(6 / float64(in+out))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: b.src}
	backing := make([]float32, in*out)
	for i := range backing {
		backing[i] = float32(u.Rand())
	}
	wv := tensor.New(tensor.WithShape(in, out), tensor.WithBacking(backing))
	w := G.NewMatrix(b.g, objective.Float, G.WithShape(in, out), G.WithName(name+"_w"), G.WithValue(wv))
	bias := G.NewMatrix(b.g, objective.Float, G.WithShape(1, out), G.WithName(name+"_b"), G.WithInit(G.Zeroes()))
	b.learnables = append(b.learnables, w, bias)
	return dense{w: w, b: bias}
}

func (b *builder) mlp(in, units, depth int, name string) mlp {
	retVal := make(mlp, depth)
	for i := range retVal {
		retVal[i] = b.dense(in, units, name+string(rune('1'+i)))
		in = units
	}
	return retVal
}

func (b *builder) gaussian(in, out int, name string) gaussian {
	return gaussian{
		mu:     b.dense(in, out, name+"_μ"),
		logstd: b.dense(in, out, name+"_logσ"),
	}
}
