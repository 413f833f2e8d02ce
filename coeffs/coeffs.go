// Package coeffs reads SVM coefficient vectors and reports the significant ones together with their features.
package coeffs

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/fumin/qfeature"
)

// DefaultThreshold is the magnitude above which a coefficient is significant.
const DefaultThreshold = 0.4

// Read parses whitespace separated numbers.
// Text after '#' and blank lines are ignored.
func Read(r io.Reader) ([]float64, error) {
	data := make([]float64, 0)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var line int
	for sc.Scan() {
		line++
		ln := sc.Text()
		if hIdx := strings.Index(ln, "#"); hIdx >= 0 {
			ln = ln[:hIdx]
		}
		for _, f := range strings.Fields(ln) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("line %d", line))
			}
			data = append(data, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return data, nil
}

func ReadFile(fpath string) ([]float64, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	data, err := Read(f)
	if err != nil {
		return nil, errors.Wrap(err, fpath)
	}
	return data, nil
}

// CheckShape fails if data does not have exactly dim entries.
func CheckShape(data []float64, dim int) error {
	if len(data) != dim {
		return errors.Wrap(qfeature.ErrPrecondition, fmt.Sprintf("data size %d, expected %d", len(data), dim))
	}
	return nil
}

// Significant returns the indices whose coefficient magnitude exceeds threshold.
// A negative threshold selects every index.
func Significant(data []float64, threshold float64) []int {
	idxs := make([]int, 0)
	for i, v := range data {
		if math.Abs(v) > threshold {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

type Summary struct {
	Size        int
	Norm        float64
	MaxAbs      float64
	Significant int
}

func Summarize(data []float64, threshold float64) Summary {
	s := Summary{Size: len(data), Significant: len(Significant(data, threshold))}
	if len(data) == 0 {
		return s
	}
	s.Norm = floats.Norm(data, 2)
	s.MaxAbs = floats.Norm(data, math.Inf(1))
	return s
}

// Featurer maps a linear index to a feature.
type Featurer interface {
	Feature(int) (string, error)
}

type Entry struct {
	Index   int
	Feature string
	Coeff   float64
}

func Entries(fr Featurer, data []float64, idxs []int) ([]Entry, error) {
	entries := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		feat, err := fr.Feature(i)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		entries = append(entries, Entry{Index: i, Feature: feat, Coeff: data[i]})
	}
	return entries, nil
}

// WriteReport writes one "[index]  feature  coefficient" line per entry.
func WriteReport(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "[%d]\t\t%s\t\t%.2f\n", e.Index, e.Feature, e.Coeff); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// WriteCSV writes the index, coefficient and significance of every entry of data, for scatter plots that separate signal from noise.
func WriteCSV(w io.Writer, data []float64, threshold float64) error {
	cw := csv.NewWriter(w)
	var err error
	if err1 := cw.Write([]string{"index", "coefficient", "significant"}); err1 != nil {
		err = errors.Wrap(err1, "")
	}
	for i, v := range data {
		if err != nil {
			break
		}
		row := []string{strconv.Itoa(i), strconv.FormatFloat(v, 'g', -1, 64), strconv.FormatBool(math.Abs(v) > threshold)}
		if err1 := cw.Write(row); err1 != nil {
			err = errors.Wrap(err1, "")
		}
	}

	cw.Flush()
	if err1 := cw.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}
