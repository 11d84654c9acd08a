package objective

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects how the per-sample log weights are aggregated into a loss.
type Mode byte

const (
	VAE Mode = iota
	IWAE
	VRMax
	VRAlpha
	GeneralAlpha
	MAXMODE
)

var modeNames = [...]string{
	VAE:          "vae",
	IWAE:         "iwae",
	VRMax:        "vrmax",
	VRAlpha:      "vralpha",
	GeneralAlpha: "general_alpha",
}

func (m Mode) String() string {
	if m >= MAXMODE {
		return "UNKNOWN MODE"
	}
	return modeNames[m]
}

// UsesAlpha returns true for the Rényi modes that are parameterized by alpha.
func (m Mode) UsesAlpha() bool { return m == VRAlpha || m == GeneralAlpha }

// ParseMode parses the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return MAXMODE, errors.Wrapf(ErrUnknownMode, "%q", s)
}

var (
	ErrUnknownMode = errors.New("unknown divergence mode")
	ErrAlphaIsOne  = errors.New("alpha must not be 1; use mode vae instead")
	ErrSamples     = errors.New("importance sample count must be at least 1")
)

// alphaTolerance is how close to 1 an alpha may get before the 1/(1-alpha) rescale is refused.
const alphaTolerance = 1e-3

// Config configures the objective. It is constructed once and then only read.
type Config struct {
	Mode  Mode
	Alpha float64 // only read when Mode.UsesAlpha()
	K     int     // importance samples per observation while training
	TestK int     // importance samples per observation while evaluating
}

func DefaultConfig() Config {
	return Config{
		Mode:  IWAE,
		Alpha: 0,
		K:     5,
		TestK: 5000,
	}
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if c.Mode >= MAXMODE {
		return errors.Wrapf(ErrUnknownMode, "mode %d", c.Mode)
	}
	if c.Mode.UsesAlpha() && math.Abs(c.Alpha-1) <= alphaTolerance {
		return errors.Wrapf(ErrAlphaIsOne, "mode %v, alpha %v", c.Mode, c.Alpha)
	}
	if c.K < 1 {
		return errors.Wrapf(ErrSamples, "K = %d", c.K)
	}
	if c.TestK < 1 {
		return errors.Wrapf(ErrSamples, "TestK = %d", c.TestK)
	}
	return nil
}

func (c Config) IsValid() bool { return c.Validate() == nil }

// samples returns the number of importance samples used in the given phase.
func (c Config) samples(test bool) int {
	if test {
		return c.TestK
	}
	return c.K
}
