// Package renyi trains variational autoencoders on the Rényi family of variational bounds: the
// evidence lower bound, the importance weighted bound, VR-max, VR-α and the general α bound.
package renyi

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"

	"github.com/gorgonia/renyi/dataset"
	"github.com/gorgonia/renyi/store"
	"github.com/gorgonia/renyi/vae"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

// Run is the top level structure and the entry point of the API. It holds a network, its
// trainer and its evaluator.
type Run struct {
	Statistics

	conf    Config
	net     *vae.Net
	trainer *vae.Trainer
	eval    *vae.Evaluator
	rng     *rand.Rand
	epoch   int

	// io
	outEnc OutputEncoder
	store  *store.Store
}

// Evaluation is the outcome of evaluating a dataset.
type Evaluation struct {
	Loss     float32 // average test loss per observation
	ESS      float32 // mean effective sample size of the importance weights
	Snapshot Snapshot
}

// New creates a run. Configuration errors are reported here, before anything is built.
func New(conf Config) (*Run, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewSource(conf.Seed)
	net := vae.New(conf.NNConf, conf.ObjConf, src)
	if err := net.Init(); err != nil {
		return nil, errors.WithMessage(err, "unable to build the network")
	}
	retVal := &Run{
		Statistics: makeStatistics(),
		conf:       conf,
		net:        net,
		rng:        rand.New(src),
		outEnc:     conf.OutputEncoder,
		store:      conf.Store,
	}
	if err := retVal.setup(); err != nil {
		return nil, err
	}
	return retVal, nil
}

func (r *Run) setup() (err error) {
	if r.trainer, err = vae.Train(r.net, r.conf.LearnRate, r.conf.Clip); err != nil {
		return err
	}
	// the evaluator has a stream of its own, so its prior draws are the same after a restore
	if r.eval, err = vae.Evaluate(r.net, r.conf.TestBatchSize, rand.NewSource(r.conf.Seed+1)); err != nil {
		r.trainer.Close()
		return errors.WithMessage(err, "unable to build the evaluator")
	}
	return nil
}

// Net returns the network being trained.
func (r *Run) Net() *vae.Net { return r.net }

// Epoch returns the number of epochs trained so far.
func (r *Run) Epoch() int { return r.epoch }

// Learn trains until the configured number of epochs is reached, counting the epochs of a
// resumed checkpoint. Every epoch visits the full batches of a fresh permutation of train.
// test, if not nil, is evaluated every TestInterval epochs and after the last.
func (r *Run) Learn(train, test *dataset.Set) error {
	if train.F != r.conf.NNConf.Features {
		return errors.Errorf("training set has %d features, the network expects %d", train.F, r.conf.NNConf.Features)
	}
	batchSize := r.conf.NNConf.BatchSize
	batches := train.Batches(batchSize)
	if batches == 0 {
		return errors.Errorf("training set of %d observations does not fill a batch of %d", train.N, batchSize)
	}
	log.Info().
		Str("run", r.conf.Name).
		Stringer("mode", r.conf.ObjConf.Mode).
		Int("k", r.conf.ObjConf.K).
		Int("layers", r.conf.NNConf.Layers).
		Int("batches", batches).
		Msg("Starting training")

	for end := r.conf.Epochs; r.epoch < end; {
		r.epoch++
		start := time.Now()
		train.Shuffle(r.rng)
		losses := make([]float64, 0, batches)
		for i := 0; i < batches; i++ {
			batch, err := train.Batch(i, batchSize)
			if err != nil {
				return err
			}
			loss, err := r.trainer.Step(batch)
			if err != nil {
				return errors.WithMessagef(err, "epoch %d, batch %d", r.epoch, i)
			}
			perObs := float64(loss) / float64(batchSize)
			losses = append(losses, perObs)
			if r.conf.ReportInterval > 0 && i%r.conf.ReportInterval == 0 {
				log.Debug().Int("epoch", r.epoch).Int("batch", i).Float64("loss", perObs).Msg("Train")
			}
		}
		took := time.Since(start)
		avg := r.update(r.epoch, losses, took)
		log.Info().Int("epoch", r.epoch).Float32("loss", avg).Dur("took", took).Msg("Average training loss")
		if err := r.record(store.Record{Epoch: r.epoch, Phase: store.Train, Loss: avg}); err != nil {
			return err
		}

		last := r.epoch == end
		if (r.conf.TestInterval > 0 && r.epoch%r.conf.TestInterval == 0) || last {
			if test != nil {
				if _, err := r.test(test); err != nil {
					return err
				}
			}
			if err := r.checkpoint(); err != nil {
				return err
			}
		}
	}
	if r.outEnc != nil {
		return r.outEnc.Flush()
	}
	return nil
}

// test evaluates test after an epoch, and records the result.
func (r *Run) test(test *dataset.Set) (Evaluation, error) {
	ev, err := r.Evaluate(test)
	if err != nil {
		return ev, errors.WithMessagef(err, "evaluating epoch %d", r.epoch)
	}
	r.evaluated(ev.Loss, ev.ESS)
	log.Info().Int("epoch", r.epoch).Float32("loss", ev.Loss).Float32("ess", ev.ESS).Msg("Test set loss")
	if err = r.record(store.Record{Epoch: r.epoch, Phase: store.Test, Loss: ev.Loss, ESS: ev.ESS}); err != nil {
		return ev, err
	}
	if r.outEnc != nil {
		if err = r.outEnc.Encode(ev.Snapshot); err != nil {
			return ev, errors.WithMessage(err, "encoding snapshot")
		}
	}
	return ev, nil
}

// Evaluate computes the average test loss per observation of the full batches of test, using
// the importance weighted bound with TestK samples whatever the training objective. The
// snapshot shows the first batch.
func (r *Run) Evaluate(test *dataset.Set) (retVal Evaluation, err error) {
	if test.F != r.conf.NNConf.Features {
		return retVal, errors.Errorf("test set has %d features, the network expects %d", test.F, r.conf.NNConf.Features)
	}
	size := r.conf.TestBatchSize
	batches := test.Batches(size)
	if batches == 0 {
		return retVal, errors.Errorf("test set of %d observations does not fill a batch of %d", test.N, size)
	}
	if err = r.eval.Sync(); err != nil {
		return retVal, err
	}

	var total, ess float64
	for i := 0; i < batches; i++ {
		batch, err := test.Batch(i, size)
		if err != nil {
			return retVal, err
		}
		loss, err := r.eval.Loss(batch)
		if err != nil {
			return retVal, errors.WithMessagef(err, "test batch %d", i)
		}
		total += float64(loss)
		e, err := r.eval.ESS()
		if err != nil {
			return retVal, err
		}
		ess += float64(e)
		if i == 0 {
			retVal.Snapshot = r.snapshot(batch.Data().([]float32), test)
		}
	}
	retVal.Loss = float32(total / float64(batches*size))
	retVal.ESS = float32(ess / float64(batches))
	retVal.Snapshot.Loss = retVal.Loss
	retVal.Snapshot.ESS = retVal.ESS
	return retVal, nil
}

func (r *Run) snapshot(batch []float32, test *dataset.Set) Snapshot {
	recons := r.eval.Reconstructions()
	n := r.conf.Shown
	if n > len(recons) {
		n = len(recons)
	}
	originals := make([][]float32, n)
	for i := range originals {
		originals[i] = make([]float32, test.F)
		copy(originals[i], batch[i*test.F:(i+1)*test.F])
	}
	return Snapshot{
		Name:            r.conf.Name,
		Epoch:           r.epoch,
		Mode:            r.conf.ObjConf.Mode,
		Width:           test.Width,
		Height:          test.Height,
		Originals:       originals,
		Reconstructions: recons[:n],
		Samples:         r.eval.Samples(),
	}
}

func (r *Run) record(rec store.Record) error {
	if r.store == nil {
		return nil
	}
	rec.Time = time.Now()
	return errors.WithMessage(r.store.PutRecord(r.conf.Name, rec), "recording")
}

func (r *Run) checkpoint() error {
	if r.store == nil {
		return nil
	}
	// checkpoints are written like Save writes files, so that restore reads both
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r.net); err != nil {
		return errors.WithStack(err)
	}
	log.Debug().Int("epoch", r.epoch).Int("bytes", buf.Len()).Msg("Checkpoint")
	return errors.WithMessage(r.store.PutCheckpoint(r.conf.Name, r.epoch, buf.Bytes()), "checkpointing")
}

// Resume restores the latest checkpoint of the run from the store. It returns false if there is none.
func (r *Run) Resume() (bool, error) {
	if r.store == nil {
		return false, nil
	}
	epoch, blob, err := r.store.LatestCheckpoint(r.conf.Name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err = r.restore(gob.NewDecoder(bytes.NewReader(blob))); err != nil {
		return false, err
	}
	r.epoch = epoch
	log.Info().Int("epoch", epoch).Msg("Resumed from checkpoint")
	return true, nil
}

// Save the trained network into filename.
func (r *Run) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	return errors.WithStack(enc.Encode(r.net))
}

// Load the network from filename. The network must have been saved with the same architecture.
func (r *Run) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return r.restore(gob.NewDecoder(f))
}

func (r *Run) restore(dec *gob.Decoder) error {
	net := vae.New(r.conf.NNConf, r.conf.ObjConf, rand.NewSource(r.conf.Seed))
	if err := dec.Decode(net); err != nil {
		return errors.WithStack(err)
	}
	r.Close()
	r.net = net
	return r.setup()
}

// Close implements a closer, because gorgonia VMs are resources.
func (r *Run) Close() error {
	var errs []error
	if r.trainer != nil {
		if err := r.trainer.Close(); err != nil {
			errs = append(errs, err)
		}
		r.trainer = nil
	}
	if r.eval != nil {
		if err := r.eval.Close(); err != nil {
			errs = append(errs, err)
		}
		r.eval = nil
	}
	if len(errs) > 0 {
		return errors.Errorf("closing run: %v", errs)
	}
	return nil
}
