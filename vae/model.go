package vae

import (
	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// generator is a model that can also decode latents drawn from the prior.
type generator interface {
	objective.Model
	Generate(prior *G.Node) (*G.Node, error)
}

// shallow is the network with one stochastic layer:
//
//	x → tanh → tanh → (μ, logσ) → z → tanh → tanh → sigmoid
type shallow struct {
	enc   mlp
	q     gaussian
	dec   mlp
	out   dense
	noise *objective.Noise
}

func newShallow(b *builder, conf Config, noise *objective.Noise) *shallow {
	retVal := &shallow{noise: noise}
	retVal.enc = b.mlp(conf.Features, conf.Units, 2, "Enc")
	retVal.q = b.gaussian(conf.Units, conf.Latent, "Q")
	retVal.dec = b.mlp(conf.Latent, conf.Units, 2, "Dec")
	retVal.out = b.dense(conf.Units, conf.Features, "Out")
	return retVal
}

func (s *shallow) Encode(x *G.Node) (mu, logstd *G.Node, err error) {
	var m maebe
	mu, logstd = m.gaussian(m.mlp(x, s.enc), s.q)
	return mu, logstd, m.err
}

func (s *shallow) Reparameterize(mu, logstd *G.Node, deterministic bool) (*G.Node, error) {
	return objective.Reparameterize(s.noise, mu, logstd, deterministic)
}

func (s *shallow) Decode(z *G.Node) (*G.Node, error) {
	var m maebe
	theta := m.sigmoid(m.linear(m.mlp(z, s.dec), s.out))
	return theta, m.err
}

func (s *shallow) Generate(prior *G.Node) (*G.Node, error) { return s.Decode(prior) }

// deep is the network with two stochastic layers. z1 sits next to the observations and z0
// carries the prior:
//
//	q: x → z1 → z0
//	p: z0 → z1 → x
type deep struct {
	enc1, enc2 mlp
	q1, q0     gaussian
	dec0, dec1 mlp
	p1         gaussian
	out        dense
	noise      *objective.Noise
}

func newDeep(b *builder, conf Config, noise *objective.Noise) *deep {
	retVal := &deep{noise: noise}
	retVal.enc1 = b.mlp(conf.Features, conf.Units, 2, "Enc1")
	retVal.q1 = b.gaussian(conf.Units, conf.MidLatent, "Q1")
	retVal.enc2 = b.mlp(conf.MidLatent, conf.MidUnits, 2, "Enc2")
	retVal.q0 = b.gaussian(conf.MidUnits, conf.Latent, "Q0")

	retVal.dec0 = b.mlp(conf.Latent, conf.MidUnits, 2, "Dec0")
	retVal.p1 = b.gaussian(conf.MidUnits, conf.MidLatent, "P1")
	retVal.dec1 = b.mlp(conf.MidLatent, conf.Units, 2, "Dec1")
	retVal.out = b.dense(conf.Units, conf.Features, "Out")
	return retVal
}

// Encode returns the parameters of q(z1|x).
func (d *deep) Encode(x *G.Node) (mu, logstd *G.Node, err error) {
	var m maebe
	mu, logstd = m.gaussian(m.mlp(x, d.enc1), d.q1)
	return mu, logstd, m.err
}

func (d *deep) Reparameterize(mu, logstd *G.Node, deterministic bool) (*G.Node, error) {
	return objective.Reparameterize(d.noise, mu, logstd, deterministic)
}

// Decode returns the Bernoulli parameters of p(x|z1).
func (d *deep) Decode(z1 *G.Node) (*G.Node, error) {
	var m maebe
	theta := m.sigmoid(m.linear(m.mlp(z1, d.dec1), d.out))
	return theta, m.err
}

// Generate decodes prior draws of z0 through the mean of p(z1|z0).
func (d *deep) Generate(prior *G.Node) (*G.Node, error) {
	var m maebe
	mu, _ := m.gaussian(m.mlp(prior, d.dec0), d.p1)
	if m.err != nil {
		return nil, m.err
	}
	return d.Decode(mu)
}

// LogRatio is log p(z0) + log p(z1|z0) + log p(x|z1) - log q(z0|z1) - log q(z1|x).
func (d *deep) LogRatio(x *G.Node, deterministic bool) (raw, theta *G.Node, err error) {
	var mu1, logstd1, z1 *G.Node
	if mu1, logstd1, err = d.Encode(x); err != nil {
		return nil, nil, errors.WithMessage(err, "encode z1")
	}
	if z1, err = d.Reparameterize(mu1, logstd1, deterministic); err != nil {
		return nil, nil, errors.WithMessage(err, "reparameterize z1")
	}

	var m maebe
	mu0, logstd0 := m.gaussian(m.mlp(z1, d.enc2), d.q0)
	if m.err != nil {
		return nil, nil, errors.WithMessage(m.err, "encode z0")
	}
	var z0 *G.Node
	if z0, err = d.Reparameterize(mu0, logstd0, deterministic); err != nil {
		return nil, nil, errors.WithMessage(err, "reparameterize z0")
	}
	pmu1, plogstd1 := m.gaussian(m.mlp(z0, d.dec0), d.p1)
	if m.err != nil {
		return nil, nil, errors.WithMessage(m.err, "decode z1")
	}
	if theta, err = d.Decode(z1); err != nil {
		return nil, nil, errors.WithMessage(err, "decode x")
	}

	var logPz0, logPz1, logPx, logQz0, logQz1 *G.Node
	if logPz0, err = objective.LogDensityStdNormal(z0); err != nil {
		return nil, nil, err
	}
	if logPz1, err = objective.LogDensityGaussian(z1, pmu1, plogstd1); err != nil {
		return nil, nil, err
	}
	if logPx, err = objective.LogDensityBernoulli(theta, x); err != nil {
		return nil, nil, err
	}
	if logQz0, err = objective.LogDensityGaussian(z0, mu0, logstd0); err != nil {
		return nil, nil, err
	}
	if logQz1, err = objective.LogDensityGaussian(z1, mu1, logstd1); err != nil {
		return nil, nil, err
	}

	raw = m.do(func() (*G.Node, error) { return G.Add(logPz0, logPz1) })
	raw = m.do(func() (*G.Node, error) { return G.Add(raw, logPx) })
	raw = m.do(func() (*G.Node, error) { return G.Sub(raw, logQz0) })
	raw = m.do(func() (*G.Node, error) { return G.Sub(raw, logQz1) })
	return raw, theta, m.err
}
