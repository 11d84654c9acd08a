package objective

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// constModel encodes everything to N(0, 1) and decodes everything to θ.
type constModel struct {
	latent, features int
	theta            float32
	noise            *Noise

	mu, z *G.Node
}

func (c *constModel) Encode(x *G.Node) (mu, logstd *G.Node, err error) {
	rows := x.Shape()[0]
	c.mu = G.NewMatrix(x.Graph(), Float, G.WithShape(rows, c.latent), G.WithName("μ"), G.WithInit(G.Zeroes()))
	logstd = G.NewMatrix(x.Graph(), Float, G.WithShape(rows, c.latent), G.WithName("logσ"), G.WithInit(G.Zeroes()))
	return c.mu, logstd, nil
}

func (c *constModel) Reparameterize(mu, logstd *G.Node, deterministic bool) (*G.Node, error) {
	z, err := Reparameterize(c.noise, mu, logstd, deterministic)
	c.z = z
	return z, err
}

func (c *constModel) Decode(z *G.Node) (*G.Node, error) {
	rows := z.Shape()[0]
	backing := make([]float32, rows*c.features)
	for i := range backing {
		backing[i] = c.theta
	}
	v := tensor.New(tensor.WithShape(rows, c.features), tensor.WithBacking(backing))
	return G.NewMatrix(z.Graph(), Float, G.WithShape(rows, c.features), G.WithName("θ"), G.WithValue(v)), nil
}

// linearModel is a fixed linear encoder and a fixed sigmoid-linear decoder, so that the
// raw log weights depend on the noise.
type linearModel struct {
	latent, features int
	noise            *Noise
}

func fixed(g *G.ExprGraph, rows, cols int, scale float32, name string) *G.Node {
	backing := make([]float32, rows*cols)
	for i := range backing {
		backing[i] = scale * float32((i*7)%11-5) / 5
	}
	v := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
	return G.NewMatrix(g, Float, G.WithShape(rows, cols), G.WithName(name), G.WithValue(v))
}

func (l *linearModel) Encode(x *G.Node) (mu, logstd *G.Node, err error) {
	g := x.Graph()
	if mu, err = G.Mul(x, fixed(g, l.features, l.latent, 1, "A")); err != nil {
		return nil, nil, err
	}
	logstd, err = G.Mul(x, fixed(g, l.features, l.latent, 0.3, "S"))
	return mu, logstd, err
}

func (l *linearModel) Reparameterize(mu, logstd *G.Node, deterministic bool) (*G.Node, error) {
	return Reparameterize(l.noise, mu, logstd, deterministic)
}

func (l *linearModel) Decode(z *G.Node) (*G.Node, error) {
	zw, err := G.Mul(z, fixed(z.Graph(), l.latent, l.features, 2, "W"))
	if err != nil {
		return nil, err
	}
	return G.Sigmoid(zw)
}

var scenarioBatch = []float32{
	1, 0, 1, 0,
	0, 1, 0, 1,
}

func newBatch(rows, cols int, backing []float32) *tensor.Dense {
	data := make([]float32, len(backing))
	copy(data, backing)
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

type modelFn func(noise *Noise) Model

func linear(noise *Noise) Model { return &linearModel{latent: 2, features: 4, noise: noise} }

func build(t *testing.T, conf Config, mk modelFn, test bool, seed uint64) *Runner {
	g := G.NewGraph()
	noise := NewNoise(rand.NewSource(seed))
	o, err := Build(g, mk(noise), conf, 2, 4, test)
	require.NoError(t, err)
	return NewRunner(o, noise, rand.NewSource(seed+1))
}

func rawValues(t *testing.T, r *Runner) []float32 {
	raw, err := r.RawValue()
	require.NoError(t, err)
	return raw
}

func TestScenarioConstantModel(t *testing.T) {
	assert := assert.New(t)
	conf := Config{Mode: IWAE, K: 3, TestK: 3}
	m := &constModel{latent: 2, features: 4, theta: 0.5}
	g := G.NewGraph()
	m.noise = NewNoise(rand.NewSource(1337))
	o, err := Build(g, m, conf, 2, 4, false)
	require.NoError(t, err)
	r := NewRunner(o, m.noise, rand.NewSource(1))
	defer r.Close()

	loss, err := r.Run(newBatch(2, 4, scenarioBatch))
	require.NoError(t, err)

	want := float32(4 * math.Log(0.5))
	for i, v := range rawValues(t, r) {
		assert.InDelta(want, v, 1e-4, "raw log weight %d", i)
	}
	norm, err := o.NormalizedWeights()
	require.NoError(t, err)
	for i, v := range norm {
		assert.InDelta(1.0/3, v, 1e-6, "normalized weight %d", i)
	}
	assert.InDelta(5.5452, loss, 1e-3)
	assert.Equal(tensor.Shape{6, 4}, o.Reconstruction().Shape())
}

func TestIWAEWithOneSampleIsELBO(t *testing.T) {
	batch := newBatch(2, 4, scenarioBatch)
	vae := build(t, Config{Mode: VAE, K: 1, TestK: 1}, linear, false, 42)
	defer vae.Close()
	iwae := build(t, Config{Mode: IWAE, K: 1, TestK: 1}, linear, false, 42)
	defer iwae.Close()

	vaeLoss, err := vae.Run(batch)
	require.NoError(t, err)
	iwaeLoss, err := iwae.Run(batch)
	require.NoError(t, err)
	assert.InDelta(t, vaeLoss, iwaeLoss, 1e-4)
}

func TestVAELossAveragesSamples(t *testing.T) {
	r := build(t, Config{Mode: VAE, K: 4, TestK: 4}, linear, false, 7)
	defer r.Close()
	loss, err := r.Run(newBatch(2, 4, scenarioBatch))
	require.NoError(t, err)

	var sum float64
	for _, v := range rawValues(t, r) {
		sum += float64(v)
	}
	assert.InDelta(t, -sum/4, loss, 1e-3)
	assert.Nil(t, r.Objective().Normalized)
}

func TestNormalizedWeightsAreDistributions(t *testing.T) {
	assert := assert.New(t)
	r := build(t, Config{Mode: IWAE, K: 7, TestK: 7}, linear, false, 3)
	defer r.Close()
	_, err := r.Run(newBatch(2, 4, scenarioBatch))
	require.NoError(t, err)

	norm, err := r.Objective().NormalizedWeights()
	require.NoError(t, err)
	require.Len(t, norm, 14)
	for row := 0; row < 2; row++ {
		var sum float32
		for _, w := range norm[row*7 : (row+1)*7] {
			assert.True(w >= 0 && w <= 1, "weight %v out of [0, 1]", w)
			sum += w
		}
		assert.InDelta(1, sum, 1e-5, "row %d", row)
	}
}

func TestVRMaxIsNegatedSumOfRowMaxima(t *testing.T) {
	r := build(t, Config{Mode: VRMax, K: 5, TestK: 5}, linear, false, 11)
	defer r.Close()
	loss, err := r.Run(newBatch(2, 4, scenarioBatch))
	require.NoError(t, err)

	raw := rawValues(t, r)
	var want float32
	for row := 0; row < 2; row++ {
		max := float32(math.Inf(-1))
		for _, v := range raw[row*5 : (row+1)*5] {
			if v > max {
				max = v
			}
		}
		want -= max
	}
	assert.InDelta(t, want, loss, 1e-5)
}

func TestGeneralAlphaZeroIsIWAE(t *testing.T) {
	batch := newBatch(2, 4, scenarioBatch)
	general := build(t, Config{Mode: GeneralAlpha, Alpha: 0, K: 5, TestK: 5}, linear, false, 99)
	defer general.Close()
	iwae := build(t, Config{Mode: IWAE, K: 5, TestK: 5}, linear, false, 99)
	defer iwae.Close()

	for i := 0; i < 3; i++ {
		gl, err := general.Run(batch)
		require.NoError(t, err)
		il, err := iwae.Run(batch)
		require.NoError(t, err)
		assert.Equal(t, il, gl, "run %d", i)
	}
}

func TestVRAlphaBackpropagatesOneSamplePerRow(t *testing.T) {
	assert := assert.New(t)
	const alpha = 0.5
	r := build(t, Config{Mode: VRAlpha, Alpha: alpha, K: 5, TestK: 5}, linear, false, 5)
	defer r.Close()
	require.True(t, r.Objective().NeedsResampling())

	loss, err := r.Run(newBatch(2, 4, scenarioBatch))
	require.NoError(t, err)

	sel := r.Objective().Selector.Value().Data().([]float32)
	raw := rawValues(t, r)
	var want float32
	for row := 0; row < 2; row++ {
		var ones int
		for k, v := range sel[row*5 : (row+1)*5] {
			if v == 1 {
				ones++
				want -= raw[row*5+k]
			} else {
				assert.Equal(float32(0), v)
			}
		}
		assert.Equal(1, ones, "row %d should select exactly one sample", row)
	}
	// the (1-α) scale and the 1/(1-α) rescale cancel on the selected entry
	assert.InDelta(want, loss, 1e-4)
}

func TestRawValueIsUntouchedByAggregation(t *testing.T) {
	assert := assert.New(t)
	batch := newBatch(2, 4, scenarioBatch)
	reference := build(t, Config{Mode: IWAE, K: 5, TestK: 5}, linear, false, 21)
	defer reference.Close()
	_, err := reference.Run(batch)
	require.NoError(t, err)
	want := rawValues(t, reference)

	confs := []Config{
		{Mode: VAE, K: 5, TestK: 5},
		{Mode: VRMax, K: 5, TestK: 5},
		{Mode: VRAlpha, Alpha: 0.5, K: 5, TestK: 5},
		{Mode: GeneralAlpha, Alpha: 0.5, K: 5, TestK: 5},
		{Mode: GeneralAlpha, Alpha: -3, K: 5, TestK: 5},
	}
	for _, conf := range confs {
		r := build(t, conf, linear, false, 21)
		_, err := r.Run(batch)
		require.NoError(t, err)
		got := rawValues(t, r)
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(want[i], got[i], 1e-5, "%v α=%v, sample %d", conf.Mode, conf.Alpha, i)
		}
		r.Close()
	}

	// the constant model's raw weights are all 4 log 0.5
	m := &constModel{latent: 2, features: 4, theta: 0.5}
	m.noise = NewNoise(rand.NewSource(5))
	o, err := Build(G.NewGraph(), m, Config{Mode: GeneralAlpha, Alpha: 0.5, K: 3, TestK: 3}, 2, 4, false)
	require.NoError(t, err)
	r := NewRunner(o, m.noise, rand.NewSource(6))
	defer r.Close()
	_, err = r.Run(batch)
	require.NoError(t, err)
	for i, v := range rawValues(t, r) {
		assert.InDelta(float32(4*math.Log(0.5)), v, 1e-4, "raw log weight %d", i)
	}
}

func TestTestModeIsDeterministicIWAE(t *testing.T) {
	assert := assert.New(t)
	batch := newBatch(2, 4, scenarioBatch)
	vrmax := build(t, Config{Mode: VRMax, K: 5, TestK: 3}, linear, true, 1)
	defer vrmax.Close()
	iwae := build(t, Config{Mode: IWAE, K: 5, TestK: 3}, linear, true, 2)
	defer iwae.Close()

	first, err := vrmax.Run(batch)
	require.NoError(t, err)
	second, err := vrmax.Run(batch)
	require.NoError(t, err)
	assert.Equal(first, second, "test mode must be reproducible")

	other, err := iwae.Run(batch)
	require.NoError(t, err)
	assert.Equal(first, other, "test mode uses the iwae estimator regardless of mode")
	assert.Equal(3, vrmax.Objective().Samples)
	assert.Empty(vrmax.noise.Nodes(), "deterministic reparameterization must not draw noise")
}

func TestDeterministicReparameterizationIsTheMean(t *testing.T) {
	m := &constModel{latent: 2, features: 4, theta: 0.5}
	g := G.NewGraph()
	_, err := Build(g, m, Config{Mode: IWAE, K: 2, TestK: 2}, 2, 4, true)
	require.NoError(t, err)
	assert.True(t, m.z == m.mu)
}

func TestBuildRejectsBadConfig(t *testing.T) {
	g := G.NewGraph()
	_, err := Build(g, linear(nil), Config{Mode: GeneralAlpha, Alpha: 1, K: 5, TestK: 5}, 2, 4, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlphaIsOne))
	assert.Empty(t, g.AllNodes(), "nothing may be built for an invalid configuration")
}

func TestLetRejectsWrongShape(t *testing.T) {
	r := build(t, Config{Mode: IWAE, K: 2, TestK: 2}, linear, false, 1)
	defer r.Close()
	_, err := r.Run(newBatch(1, 4, scenarioBatch[:4]))
	assert.Error(t, err)
}
