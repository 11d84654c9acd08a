package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorgonia/renyi"
	"github.com/gorgonia/renyi/dataset"
	"github.com/gorgonia/renyi/encoding/gif"
	"github.com/gorgonia/renyi/encoding/mjpeg"
	"github.com/gorgonia/renyi/objective"
	"github.com/gorgonia/renyi/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// modelFlags are the flags that fix the architecture and the objective.
type modelFlags struct {
	mode      string
	alpha     float64
	k         int
	testK     int
	layers    int
	units     int
	latent    int
	batchSize int
	testBatch int
	seed      uint64
	binarize  float64
}

func (m *modelFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&m.mode, "mode", "d", "iwae", "objective: vae, iwae, vrmax, vralpha or general_alpha")
	fs.Float64VarP(&m.alpha, "alpha", "a", 0, "alpha of the vralpha and general_alpha objectives")
	fs.IntVarP(&m.k, "k", "k", 5, "importance samples per observation while training")
	fs.IntVarP(&m.testK, "test-k", "", 5000, "importance samples per observation while evaluating")
	fs.IntVarP(&m.layers, "layers", "", 1, "stochastic layers: 1 or 2")
	fs.IntVarP(&m.units, "units", "", 200, "width of the hidden layers next to the observations")
	fs.IntVarP(&m.latent, "latent", "", 50, "width of the latent layer")
	fs.IntVarP(&m.batchSize, "batch-size", "b", 100, "batch size")
	fs.IntVarP(&m.testBatch, "test-batch-size", "", 2, "batch size while evaluating")
	fs.Uint64VarP(&m.seed, "random-seed", "x", 1, "random seed")
	fs.Float64VarP(&m.binarize, "binarize", "", 0.5, "binarize observations at this threshold; 0 keeps them as is")
}

func (m *modelFlags) config(name string, features int) (conf renyi.Config, err error) {
	conf = renyi.DefaultConfig(features)
	conf.Name = name
	if conf.ObjConf.Mode, err = objective.ParseMode(m.mode); err != nil {
		return conf, err
	}
	conf.ObjConf.Alpha = m.alpha
	conf.ObjConf.K = m.k
	conf.ObjConf.TestK = m.testK
	conf.NNConf.Layers = m.layers
	conf.NNConf.Units = m.units
	conf.NNConf.Latent = m.latent
	conf.NNConf.BatchSize = m.batchSize
	conf.TestBatchSize = m.testBatch
	conf.Seed = m.seed
	return conf, conf.Validate()
}

func (m *modelFlags) open(filename string) (*dataset.Set, error) {
	s, err := dataset.Open(filename)
	if err != nil {
		return nil, err
	}
	if m.binarize > 0 {
		s.Binarize(float32(m.binarize))
	}
	log.Info().Str("file", filename).Int("n", s.N).Int("features", s.F).Msg("Loaded data")
	return s, nil
}

func TrainCommand() *cobra.Command {
	var trainFile string
	var testFile string
	var outputFile string
	var statsFile string
	var gifFile string
	var storeDir string
	var serve string
	var name string
	var resume bool
	var scale int
	var m modelFlags
	var conf renyi.Config

	var cmd = &cobra.Command{
		Use:   "train -i trainData -o outputFile",
		Short: "Trains a new model on the provided training data and saves the trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			train, err := m.open(trainFile)
			if err != nil {
				return err
			}
			var test *dataset.Set
			if testFile != "" {
				if test, err = m.open(testFile); err != nil {
					return err
				}
			}

			c, err := m.config(name, train.F)
			if err != nil {
				return err
			}
			c.Epochs = conf.Epochs
			c.TestInterval = conf.TestInterval
			c.ReportInterval = conf.ReportInterval
			c.LearnRate = conf.LearnRate
			c.Clip = conf.Clip

			var encs multiEncoder
			if gifFile != "" {
				f, err := os.Create(gifFile)
				if err != nil {
					return errors.WithStack(err)
				}
				defer f.Close()
				enc := gif.NewGifEncoder(scale)
				enc.Writer = f
				encs = append(encs, enc)
			}
			if serve != "" {
				stream := mjpeg.NewEncoder(scale)
				prog := newProgress()
				encs = append(encs, stream, prog)
				mux := http.NewServeMux()
				mux.Handle("/stream", stream)
				mux.Handle("/ws", prog)
				go func() {
					log.Info().Str("addr", serve).Msg("Serving snapshots on /stream and progress on /ws")
					if err := http.ListenAndServe(serve, mux); err != nil {
						log.Error().Err(err).Msg("Serving")
					}
				}()
			}
			if len(encs) > 0 {
				c.OutputEncoder = encs
			}
			if storeDir != "" {
				st, err := store.Open(storeDir, log.Logger)
				if err != nil {
					return err
				}
				defer st.Close()
				c.Store = st
			}

			r, err := renyi.New(c)
			if err != nil {
				return err
			}
			defer r.Close()
			if resume {
				if _, err = r.Resume(); err != nil {
					return err
				}
			}
			if err = r.Learn(train, test); err != nil {
				return err
			}
			if err = r.Save(outputFile); err != nil {
				return err
			}
			log.Info().Str("file", outputFile).Msg("Saved model")
			if statsFile != "" {
				return r.Dump(statsFile)
			}
			return nil
		},
	}

	m.register(cmd.Flags())
	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file: IDX or CSV, optionally gzipped")
	cmd.Flags().StringVarP(&testFile, "test-file", "", "", "name of test file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to.")
	cmd.Flags().StringVarP(&name, "name", "", "renyi", "name of the run, under which the store keeps records and checkpoints")
	cmd.Flags().IntVarP(&conf.Epochs, "num-epochs", "n", 10, "number of epochs to train")
	cmd.Flags().Float64VarP(&conf.LearnRate, "learning-rate", "l", 1e-3, "learning rate")
	cmd.Flags().Float64VarP(&conf.Clip, "clip", "", 0, "gradient clip; 0 disables clipping")
	cmd.Flags().IntVarP(&conf.ReportInterval, "report-interval", "r", 100, "loss report interval, in batches")
	cmd.Flags().IntVarP(&conf.TestInterval, "test-interval", "t", 1, "test interval, in epochs")
	cmd.Flags().StringVarP(&statsFile, "stats-file", "s", "", "name of the CSV file to dump statistics to (optional)")
	cmd.Flags().StringVarP(&gifFile, "gif", "g", "", "name of the animated GIF of the test snapshots (optional)")
	cmd.Flags().IntVarP(&scale, "scale", "", 2, "upscaling of the snapshot images")
	cmd.Flags().StringVarP(&storeDir, "store", "", "", "directory of the store of records and checkpoints (optional)")
	cmd.Flags().BoolVarP(&resume, "resume", "", false, "resume from the latest checkpoint in the store")
	cmd.Flags().StringVarP(&serve, "serve", "", "", "address to serve live snapshots on, e.g. :8080 (optional)")

	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var m modelFlags

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i testFile",
		Short: "Evaluates the provided model on the specified data with the importance weighted bound",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := m.open(inputFile)
			if err != nil {
				return err
			}
			conf, err := m.config("test", test.F)
			if err != nil {
				return err
			}
			r, err := renyi.New(conf)
			if err != nil {
				return err
			}
			defer r.Close()
			if err = r.Load(modelFile); err != nil {
				return err
			}
			ev, err := r.Evaluate(test)
			if err != nil {
				return err
			}
			log.Info().Float32("loss", ev.Loss).Float32("ess", ev.ESS).Int("test_k", conf.ObjConf.TestK).Msg("Test set loss")
			return nil
		},
	}

	m.register(cmd.Flags())
	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func GraphCommand() *cobra.Command {
	var features int
	var m modelFlags

	var cmd = &cobra.Command{
		Use:   "graph -f features",
		Short: "Prints the expression graph of the training objective in DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := m.config("graph", features)
			if err != nil {
				return err
			}
			r, err := renyi.New(conf)
			if err != nil {
				return err
			}
			defer r.Close()
			dot, err := r.Net().Dot()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dot)
			return err
		},
	}

	m.register(cmd.Flags())
	cmd.Flags().IntVarP(&features, "features", "f", 784, "features per observation")

	return cmd
}
