package renyi

import (
	"github.com/gorgonia/renyi/objective"
	"github.com/gorgonia/renyi/store"
	"github.com/gorgonia/renyi/vae"
	"github.com/pkg/errors"
)

type Config struct {
	Name    string
	NNConf  vae.Config
	ObjConf objective.Config

	Epochs         int
	TestInterval   int // evaluate every TestInterval epochs. 0 evaluates once, after training
	ReportInterval int // log the training loss every ReportInterval batches. 0 disables it
	LearnRate      float64
	Clip           float64 // gradient clip; 0 disables clipping
	Seed           uint64
	TestBatchSize  int
	Shown          int // observations shown per snapshot

	// extensions
	OutputEncoder OutputEncoder
	Store         *store.Store
}

// DefaultConfig trains the one stochastic layer network with the iwae objective.
func DefaultConfig(features int) Config {
	return Config{
		Name:    "renyi",
		NNConf:  vae.DefaultConf(features),
		ObjConf: objective.DefaultConfig(),

		Epochs:        10,
		TestInterval:  1,
		LearnRate:     1e-3,
		Seed:          1,
		TestBatchSize: 2,
		Shown:         8,
	}
}

// Validate checks the configuration of the run and of the network and objective it trains.
func (c Config) Validate() error {
	if err := c.NNConf.Validate(); err != nil {
		return errors.WithMessage(err, "network")
	}
	if err := c.ObjConf.Validate(); err != nil {
		return errors.WithMessage(err, "objective")
	}
	if c.Epochs < 0 || c.TestInterval < 0 || c.ReportInterval < 0 {
		return errors.Errorf("epochs (%d), test interval (%d) and report interval (%d) must not be negative", c.Epochs, c.TestInterval, c.ReportInterval)
	}
	if c.LearnRate <= 0 {
		return errors.Errorf("learn rate must be positive, got %v", c.LearnRate)
	}
	if c.Clip < 0 {
		return errors.Errorf("clip must not be negative, got %v", c.Clip)
	}
	if c.TestBatchSize < 1 {
		return errors.Errorf("test batch size must be positive, got %d", c.TestBatchSize)
	}
	return nil
}

// OutputEncoder encodes a snapshot of the run as whatever.
//
// An example OutputEncoder is the GifEncoder. Another example would be a logger.
type OutputEncoder interface {
	Encode(s Snapshot) error
	Flush() error
}

// Snapshot is what an evaluation of the run looks like.
type Snapshot struct {
	Name  string
	Epoch int
	Mode  objective.Mode
	Loss  float32 // average test loss per observation
	ESS   float32

	Width, Height   int
	Originals       [][]float32
	Reconstructions [][]float32
	Samples         [][]float32 // decoded prior draws
}
