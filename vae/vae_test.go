package vae

import (
	"bytes"
	"encoding/gob"
	"math"
	"strings"
	"testing"

	"github.com/gorgonia/renyi/objective"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

func smallConf(layers int) Config {
	return Config{
		Features:     6,
		Units:        5,
		Latent:       2,
		MidUnits:     4,
		MidLatent:    3,
		Layers:       layers,
		BatchSize:    4,
		PriorSamples: 3,
	}
}

func smallBatch() *tensor.Dense {
	return tensor.New(tensor.WithShape(4, 6), tensor.WithBacking([]float32{
		1, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 1,
		1, 0, 1, 0, 1, 0,
		0, 1, 0, 1, 0, 1,
	}))
}

func finite(t *testing.T, v float32, msgAndArgs ...interface{}) {
	f := float64(v)
	assert.False(t, math.IsNaN(f) || math.IsInf(f, 0), msgAndArgs...)
}

func TestDefaultConfig(t *testing.T) {
	if !DefaultConf(784).IsValid() {
		t.Errorf("Expected Default Config to be correct")
	}
	conf := DefaultConf(784)
	conf.Layers = 3
	assert.True(t, errors.Is(conf.Validate(), ErrLayers))
}

func TestSanity(t *testing.T) {
	modes := []objective.Config{
		{Mode: objective.VAE, K: 3, TestK: 3},
		{Mode: objective.IWAE, K: 3, TestK: 3},
		{Mode: objective.VRMax, K: 3, TestK: 3},
		{Mode: objective.VRAlpha, Alpha: 0.5, K: 3, TestK: 3},
		{Mode: objective.GeneralAlpha, Alpha: -2, K: 3, TestK: 3},
	}
	for _, layers := range []int{1, 2} {
		for _, obj := range modes {
			d := New(smallConf(layers), obj, rand.NewSource(1337))
			if err := d.Init(); err != nil {
				t.Fatalf("%v, %d layers: %+v", obj.Mode, layers, err)
			}
			trainer, err := Train(d, 1e-3, 0)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				loss, err := trainer.Step(smallBatch())
				if err != nil {
					t.Fatalf("%v, %d layers, step %d: %+v", obj.Mode, layers, i, err)
				}
				finite(t, loss, "%v, %d layers, step %d", obj.Mode, layers, i)
			}
			require.NoError(t, trainer.Close())
		}
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	for _, layers := range []int{1, 2} {
		d := New(smallConf(layers), objective.Config{Mode: objective.IWAE, K: 5, TestK: 5}, rand.NewSource(7))
		require.NoError(t, d.Init())
		trainer, err := Train(d, 1e-2, 0)
		require.NoError(t, err)

		var first, last float32
		for i := 0; i < 300; i++ {
			loss, err := trainer.Step(smallBatch())
			require.NoError(t, err)
			switch {
			case i < 10:
				first += loss
			case i >= 290:
				last += loss
			}
		}
		assert.Less(t, last, first, "%d layers", layers)
		trainer.Close()
	}
}

func TestTrainRejectsFwdOnly(t *testing.T) {
	conf := smallConf(1)
	conf.FwdOnly = true
	d := New(conf, objective.DefaultConfig(), nil)
	require.NoError(t, d.Init())
	_, err := Train(d, 1e-3, 0)
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	assert := assert.New(t)
	for _, layers := range []int{1, 2} {
		d := New(smallConf(layers), objective.DefaultConfig(), rand.NewSource(1))
		if err := d.Init(); err != nil {
			t.Fatalf("%+v", err)
		}

		var buf bytes.Buffer
		enc := gob.NewEncoder(&buf)
		if err := enc.Encode(d); err != nil {
			t.Fatalf("Encoding Failure %v", err)
		}

		dec := gob.NewDecoder(&buf)
		d2 := New(smallConf(layers), objective.DefaultConfig(), rand.NewSource(2))
		if err := dec.Decode(d2); err != nil {
			t.Fatalf("Decoding Failure %v", err)
		}

		dmodel := d.Learnables()
		d2model := d2.Learnables()
		require.Len(t, d2model, len(dmodel))
		for i, n := range dmodel {
			assert.Equal(n.Value().Data(), d2model[i].Value().Data(), "%d - %v vs %v should have the same data", i, dmodel[i], d2model[i])
		}
	}
}

func TestEvaluator(t *testing.T) {
	assert := assert.New(t)
	for _, layers := range []int{1, 2} {
		obj := objective.Config{Mode: objective.VRMax, K: 3, TestK: 20}
		d := New(smallConf(layers), obj, rand.NewSource(5))
		require.NoError(t, d.Init())
		trainer, err := Train(d, 1e-3, 0)
		require.NoError(t, err)
		_, err = trainer.Step(smallBatch())
		require.NoError(t, err)

		eval, err := Evaluate(d, 4, rand.NewSource(6))
		require.NoError(t, err)
		assert.True(eval.Net().FwdOnly)
		assert.Equal(20, eval.Net().Objective().Samples)

		first, err := eval.Loss(smallBatch())
		require.NoError(t, err)
		finite(t, first)
		second, err := eval.Loss(smallBatch())
		require.NoError(t, err)
		assert.Equal(first, second, "evaluation must be deterministic")

		recon := eval.Reconstructions()
		require.Len(t, recon, 4)
		for _, row := range recon {
			require.Len(t, row, 6)
			for _, p := range row {
				assert.True(p >= 0 && p <= 1, "bernoulli parameter %v", p)
			}
		}
		samples := eval.Samples()
		require.Len(t, samples, 3)
		assert.Len(samples[0], 6)

		ess, err := eval.ESS()
		require.NoError(t, err)
		assert.True(ess >= 1-1e-3 && ess <= 20+1e-3, "effective sample size %v", ess)

		_, err = trainer.Step(smallBatch())
		require.NoError(t, err)
		require.NoError(t, eval.Sync())
		for i, l := range d.Learnables() {
			assert.Equal(l.Value().Data(), eval.Net().Learnables()[i].Value().Data())
		}

		eval.Close()
		trainer.Close()
	}
}

func TestEvaluatorsDoNotDrawFromTheTrainer(t *testing.T) {
	obj := objective.Config{Mode: objective.IWAE, K: 3, TestK: 3}
	var losses []float32
	for evaluators := 0; evaluators < 3; evaluators++ {
		d := New(smallConf(2), obj, rand.NewSource(17))
		require.NoError(t, d.Init())
		for i := 0; i < evaluators; i++ {
			eval, err := Evaluate(d, 2, rand.NewSource(uint64(i)))
			require.NoError(t, err)
			eval.Close()
		}
		trainer, err := Train(d, 1e-3, 0)
		require.NoError(t, err)
		loss, err := trainer.Step(smallBatch())
		require.NoError(t, err)
		losses = append(losses, loss)
		trainer.Close()
	}
	assert.Equal(t, losses[0], losses[1])
	assert.Equal(t, losses[0], losses[2])
}

func TestDot(t *testing.T) {
	d := New(smallConf(1), objective.Config{Mode: objective.GeneralAlpha, Alpha: 0.5, K: 2, TestK: 2}, nil)
	_, err := d.Dot()
	assert.Error(t, err)

	require.NoError(t, d.Init())
	dot, err := d.Dot()
	require.NoError(t, err)
	assert.True(t, strings.Contains(dot, "digraph"))
	assert.True(t, strings.Contains(dot, "general_alpha"))
	assert.True(t, strings.Contains(dot, `"X\n(8, 6)"`), "the replicated batch is labelled with its shape")
	assert.True(t, strings.Contains(dot, "->"))

	// every node of the expression graph is drawn
	nodes := strings.Count(dot, "fontname=Monaco")
	assert.Equal(t, len(d.Graph().AllNodes()), nodes)
}
