package objective

import (
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// BernoulliEpsilon keeps log(θ) and log(1-θ) finite when θ saturates to exactly 0 or 1.
const BernoulliEpsilon = 1e-18

// halfLog2Pi is ½·log(2π), the per-dimension normalizer of a Gaussian.
var halfLog2Pi = 0.5 * math.Log(2*math.Pi)

// LogDensityGaussian evaluates the diagonal Gaussian log density of each row of obs:
//
//	Σ_d [ -½((obs_d - μ_d)/exp(logσ_d))² - logσ_d ] - ½·D·log(2π)
//
// All three arguments are (N, D) matrices. The result is an N-vector.
func LogDensityGaussian(obs, mu, logstd *G.Node) (*G.Node, error) {
	if !obs.Shape().Eq(mu.Shape()) || !obs.Shape().Eq(logstd.Shape()) {
		return nil, errors.Errorf("gaussian log density: shape mismatch obs %v, mu %v, logstd %v", obs.Shape(), mu.Shape(), logstd.Shape())
	}
	var m maebe
	diff := m.do(func() (*G.Node, error) { return G.Sub(obs, mu) })
	std := m.do(func() (*G.Node, error) { return G.Exp(logstd) })
	scaled := m.do(func() (*G.Node, error) { return G.HadamardDiv(diff, std) })
	sq := m.do(func() (*G.Node, error) { return G.Square(scaled) })
	term := m.scale(sq, -0.5)
	term = m.do(func() (*G.Node, error) { return G.Sub(term, logstd) })
	return normalizeGaussian(&m, term, obs.Shape()[1])
}

// LogDensityStdNormal is LogDensityGaussian(z, 0, 0) without materializing the zero parameters.
func LogDensityStdNormal(z *G.Node) (*G.Node, error) {
	var m maebe
	sq := m.do(func() (*G.Node, error) { return G.Square(z) })
	term := m.scale(sq, -0.5)
	return normalizeGaussian(&m, term, z.Shape()[1])
}

func normalizeGaussian(m *maebe, term *G.Node, dims int) (*G.Node, error) {
	sum := m.rowSum(term)
	retVal := m.do(func() (*G.Node, error) { return G.Sub(sum, scalar(float64(dims)*halfLog2Pi)) })
	return retVal, m.err
}

// LogDensityBernoulli evaluates the log likelihood of each row of obs under independent
// Bernoulli variables with success probabilities theta:
//
//	Σ_d [ obs_d·log(θ_d + ε) + (1 - obs_d)·log(1 - θ_d + ε) ]
//
// theta and obs are (N, F) matrices. The result is an N-vector.
func LogDensityBernoulli(theta, obs *G.Node) (*G.Node, error) {
	if !theta.Shape().Eq(obs.Shape()) {
		return nil, errors.Errorf("bernoulli log density: shape mismatch theta %v, obs %v", theta.Shape(), obs.Shape())
	}
	var m maebe
	one := scalar(1)
	eps := scalar(BernoulliEpsilon)

	logTheta := m.do(func() (*G.Node, error) { return G.Add(theta, eps) })
	logTheta = m.do(func() (*G.Node, error) { return G.Log(logTheta) })
	fst := m.do(func() (*G.Node, error) { return G.HadamardProd(obs, logTheta) })

	omTheta := m.do(func() (*G.Node, error) { return G.Sub(one, theta) })
	omTheta = m.do(func() (*G.Node, error) { return G.Add(omTheta, eps) })
	omTheta = m.do(func() (*G.Node, error) { return G.Log(omTheta) })
	omObs := m.do(func() (*G.Node, error) { return G.Sub(one, obs) })
	snd := m.do(func() (*G.Node, error) { return G.HadamardProd(omObs, omTheta) })

	sum := m.do(func() (*G.Node, error) { return G.Add(fst, snd) })
	retVal := m.rowSum(sum)
	return retVal, m.err
}
