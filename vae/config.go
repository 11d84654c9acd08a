package vae

import "github.com/pkg/errors"

var ErrLayers = errors.New("only networks with 1 or 2 stochastic layers are supported")

// Config configures the neural network
type Config struct {
	Features  int // pixels per observation
	Units     int // width of the hidden layers next to the observations
	Latent    int // width of the latent layer the prior is placed on
	MidUnits  int // width of the hidden layers between the two stochastic layers
	MidLatent int // width of the first stochastic layer when Layers == 2
	Layers    int // number of stochastic layers

	BatchSize    int  // batch size
	PriorSamples int  // latents drawn from the prior for every evaluation
	FwdOnly      bool // is this a fwd only graph? fwd only graphs evaluate the test objective
}

// DefaultConf returns the one stochastic layer network over the given number of features:
// two tanh layers of 200 units around a 50 dimensional latent.
func DefaultConf(features int) Config {
	return Config{
		Features:  features,
		Units:     200,
		Latent:    50,
		MidUnits:  100,
		MidLatent: 100,
		Layers:    1,

		BatchSize:    100,
		PriorSamples: 64,
	}
}

func (conf Config) Validate() error {
	if conf.Layers != 1 && conf.Layers != 2 {
		return errors.Wrapf(ErrLayers, "got %d", conf.Layers)
	}
	if conf.Features < 1 || conf.Units < 1 || conf.Latent < 1 {
		return errors.Errorf("features (%d), units (%d) and latent (%d) must be positive", conf.Features, conf.Units, conf.Latent)
	}
	if conf.Layers == 2 && (conf.MidUnits < 1 || conf.MidLatent < 1) {
		return errors.Errorf("a two layer network needs positive mid units (%d) and mid latent (%d)", conf.MidUnits, conf.MidLatent)
	}
	if conf.BatchSize < 1 {
		return errors.Errorf("batch size must be positive, got %d", conf.BatchSize)
	}
	if conf.PriorSamples < 0 {
		return errors.Errorf("prior samples must not be negative, got %d", conf.PriorSamples)
	}
	return nil
}

func (conf Config) IsValid() bool { return conf.Validate() == nil }
