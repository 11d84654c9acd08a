package renyi

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Statistics holds one row per epoch. Losses are averages per observation.
type Statistics struct {
	Epochs    []int
	TrainLoss []float32
	TrainStd  []float32 // standard deviation of the per observation loss across batches
	TestLoss  []float32 // NaN for epochs without an evaluation
	ESS       []float32
	Durations []time.Duration
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs:    make([]int, 0, 64),
		TrainLoss: make([]float32, 0, 64),
		TrainStd:  make([]float32, 0, 64),
		TestLoss:  make([]float32, 0, 64),
		ESS:       make([]float32, 0, 64),
		Durations: make([]time.Duration, 0, 64),
	}
}

// update adds the row of an epoch from the losses per observation of its batches.
func (s *Statistics) update(epoch int, losses []float64, took time.Duration) (mean float32) {
	m, std := math.NaN(), math.NaN()
	if len(losses) > 0 {
		m, std = stat.MeanStdDev(losses, nil)
	}
	s.Epochs = append(s.Epochs, epoch)
	s.TrainLoss = append(s.TrainLoss, float32(m))
	s.TrainStd = append(s.TrainStd, float32(std))
	s.TestLoss = append(s.TestLoss, float32(math.NaN()))
	s.ESS = append(s.ESS, float32(math.NaN()))
	s.Durations = append(s.Durations, took)
	return float32(m)
}

// evaluated records the evaluation of the last epoch.
func (s *Statistics) evaluated(loss, ess float32) {
	if len(s.Epochs) == 0 {
		return
	}
	last := len(s.Epochs) - 1
	s.TestLoss[last] = loss
	s.ESS[last] = ess
}

func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "train_loss", "train_std", "test_loss", "ess", "seconds"}); err != nil {
		return err
	}
	records := make([][]string, 0, len(s.Epochs))
	for i, epoch := range s.Epochs {
		records = append(records, []string{
			strconv.Itoa(epoch),
			formatFloat(s.TrainLoss[i]),
			formatFloat(s.TrainStd[i]),
			formatFloat(s.TestLoss[i]),
			formatFloat(s.ESS[i]),
			strconv.FormatFloat(s.Durations[i].Seconds(), 'f', 3, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float32) string {
	if math.IsNaN(float64(v)) {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', 4, 32)
}
