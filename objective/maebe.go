package objective

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Float is the dtype every node of the objective is built in.
var Float = G.Float32

type maebe struct {
	err error
}

func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// scale multiplies a by the scalar s.
func (m *maebe) scale(a *G.Node, s float64) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(a, scalar(s)) })
}

// rowMax returns the maximum of each row of a (r, c) matrix as a (r, 1) column.
func (m *maebe) rowMax(a *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	max := m.do(func() (*G.Node, error) { return G.Max(a, 1) })
	return m.reshape(max, tensor.Shape{a.Shape()[0], 1})
}

// rowSum sums each row of a (r, c) matrix into an r-vector.
func (m *maebe) rowSum(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(a, 1) })
}

func scalar(v float64) *G.Node {
	switch Float {
	case G.Float64:
		return G.NewConstant(v)
	default:
		return G.NewConstant(float32(v))
	}
}
