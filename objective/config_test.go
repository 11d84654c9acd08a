package objective

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

func TestDefaultConfig(t *testing.T) {
	if !DefaultConfig().IsValid() {
		t.Errorf("Expected Default Config to be correct")
	}
}

func TestParseMode(t *testing.T) {
	for m := VAE; m < MAXMODE; m++ {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	parsed, err := ParseMode(" General_Alpha ")
	require.NoError(t, err)
	assert.Equal(t, GeneralAlpha, parsed)

	_, err = ParseMode("elbo")
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		conf Config
		want error
	}{
		{"iwae", Config{Mode: IWAE, K: 5, TestK: 5000}, nil},
		{"alpha ignored by vae", Config{Mode: VAE, Alpha: 1, K: 1, TestK: 1}, nil},
		{"general alpha at one", Config{Mode: GeneralAlpha, Alpha: 1, K: 5, TestK: 5}, ErrAlphaIsOne},
		{"vralpha near one", Config{Mode: VRAlpha, Alpha: 1.0005, K: 5, TestK: 5}, ErrAlphaIsOne},
		{"vralpha negative", Config{Mode: VRAlpha, Alpha: -500, K: 5, TestK: 5}, nil},
		{"no samples", Config{Mode: IWAE, K: 0, TestK: 5}, ErrSamples},
		{"no test samples", Config{Mode: IWAE, K: 5, TestK: 0}, ErrSamples},
		{"unknown mode", Config{Mode: MAXMODE, K: 5, TestK: 5}, ErrUnknownMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestReplicate(t *testing.T) {
	batch := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6}))
	rep, err := Replicate(batch, 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{6, 3}, rep.Shape())
	assert.Equal(t, []float32{
		1, 2, 3,
		1, 2, 3,
		1, 2, 3,
		4, 5, 6,
		4, 5, 6,
		4, 5, 6,
	}, rep.Data())

	_, err = Replicate(batch, 0)
	assert.True(t, errors.Is(err, ErrSamples))
}

func TestCategorical(t *testing.T) {
	src := rand.NewSource(1)
	for i := 0; i < 20; i++ {
		k, err := Categorical([]float32{0, 0, 1, 0}, src)
		require.NoError(t, err)
		assert.Equal(t, 2, k)
	}

	counts := make([]int, 2)
	for i := 0; i < 2000; i++ {
		k, err := Categorical([]float32{0.25, 0.75}, src)
		require.NoError(t, err)
		counts[k]++
	}
	assert.InDelta(t, 1500, counts[1], 150)

	_, err := Categorical([]float32{0.5, float32(nanf())}, src)
	assert.True(t, errors.Is(err, ErrDegenerateWeights))
	_, err = Categorical([]float32{0, 0}, src)
	assert.True(t, errors.Is(err, ErrDegenerateWeights))
}

func nanf() float64 {
	zero := 0.0
	return zero / zero
}

func TestEffectiveSampleSize(t *testing.T) {
	assert.InDelta(t, 4, EffectiveSampleSize([]float32{0.25, 0.25, 0.25, 0.25}), 1e-5)
	assert.InDelta(t, 1, EffectiveSampleSize([]float32{0, 1, 0, 0}), 1e-6)
	assert.InDelta(t, 2.5, MeanEffectiveSampleSize([]float32{0.25, 0.25, 0.25, 0.25, 0, 1, 0, 0}, 4), 1e-5)
}
