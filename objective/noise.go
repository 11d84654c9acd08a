package objective

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Noise owns the standard normal input nodes of a graph. Every node it hands out is
// refilled with fresh draws by Refill, so the randomness of a run is fully determined
// by the source Noise was created with.
type Noise struct {
	normal distuv.Normal
	nodes  G.Nodes
}

func NewNoise(src rand.Source) *Noise {
	return &Noise{
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// Normal returns a (rows, cols) input node holding standard normal noise.
func (n *Noise) Normal(g *G.ExprGraph, rows, cols int, name string) *G.Node {
	eps := G.NewMatrix(g, Float, G.WithShape(rows, cols), G.WithName(name), G.WithInit(G.Zeroes()))
	n.nodes = append(n.nodes, eps)
	return eps
}

// Refill draws new noise into every node.
func (n *Noise) Refill() error {
	for _, node := range n.nodes {
		t, ok := node.Value().(*tensor.Dense)
		if !ok {
			return errors.Errorf("noise node %v holds %T", node, node.Value())
		}
		switch data := t.Data().(type) {
		case []float32:
			for i := range data {
				data[i] = float32(n.normal.Rand())
			}
		case []float64:
			for i := range data {
				data[i] = n.normal.Rand()
			}
		default:
			return errors.Errorf("noise node %v: unsupported backing %T", node, data)
		}
		if err := G.Let(node, t); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Nodes returns the noise inputs, which are never learnable.
func (n *Noise) Nodes() G.Nodes { return n.nodes }

// Reparameterize expresses a draw from N(mu, exp(logstd)²) as mu + eps·exp(logstd).
// A deterministic draw is mu itself.
func Reparameterize(noise *Noise, mu, logstd *G.Node, deterministic bool) (*G.Node, error) {
	if deterministic {
		return mu, nil
	}
	if noise == nil {
		return nil, errors.New("stochastic reparameterization without a noise source")
	}
	shp := mu.Shape()
	eps := noise.Normal(mu.Graph(), shp[0], shp[1], "ε_"+mu.Name())
	var m maebe
	std := m.do(func() (*G.Node, error) { return G.Exp(logstd) })
	scaled := m.do(func() (*G.Node, error) { return G.HadamardProd(eps, std) })
	z := m.do(func() (*G.Node, error) { return G.Add(mu, scaled) })
	return z, m.err
}
