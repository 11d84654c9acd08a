package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LoadCSV reads one observation per row. If any value exceeds 1, all values are taken to be
// bytes and scaled to [0, 1]. A header row, recognised by a first field that is not a number,
// is skipped.
func LoadCSV(r io.Reader) (*Set, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	var backing []float32
	var n, f int
	var max float64
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if line == 1 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 32); err != nil {
				continue
			}
		}
		if f == 0 {
			f = len(row)
		}
		for i, field := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d, column %d", line, i+1)
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("line %d, column %d: %v is not a pixel intensity", line, i+1, v)
			}
			max = math.Max(max, v)
			backing = append(backing, float32(v))
		}
		n++
	}
	if n == 0 {
		return nil, errors.New("no observations")
	}
	if max > 1 {
		scale(backing)
	}
	s, err := New(backing, n)
	if err != nil {
		return nil, err
	}
	if side := int(math.Sqrt(float64(f))); side*side == f {
		s.Width, s.Height = side, side
	}
	return s, nil
}
