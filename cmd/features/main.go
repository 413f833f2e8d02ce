// Command features prints the significant SVM coefficients of qubit measurement features.
//
// Usage:
//
//	features -n 6 -r 2 [-labels x,y,z] [-threshold 0.4] [-cache features.db] run1.coeffs run2.coeffs ...
//
// For each coefficient file a directory named after the base name of the file is created under -d,
// holding the report of significant features, a CSV of all coefficients for plotting and a summary.
// Files sharing a base name are rejected. Every file is read and checked against the dimension
// before the features are enumerated.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/qfeature"
	"github.com/fumin/qfeature/coeffs"
	"github.com/fumin/qfeature/store"
)

const (
	fnameReport  = "features.txt"
	fnameCSV     = "features.csv"
	fnameSummary = "summary.json"
	fnameDone    = "done.txt"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	_          = flag.Int("n", 0, "number of sites")
	_          = flag.Int("r", 0, "rank, the number of constrained sites per feature")
	_          = flag.String("labels", strings.Join(qfeature.DefaultLabels, ","), "comma separated component labels")
	_          = flag.Float64("threshold", coeffs.DefaultThreshold, "coefficient magnitude threshold, negative selects all")
	_          = flag.String("cache", "", "SQLite feature list cache, empty disables")
	_          = flag.String("d", defaultOutDir, "output directory")
	_          = flag.Int("j", runtime.NumCPU(), "files processed in parallel")
	_          = flag.Bool("unrank", false, "compute features by unranking instead of enumerating, not allowed with -cache")
)

type Summary struct {
	N      int
	R      int
	Labels []string
	coeffs.Summary
}

func newIndexer(ctx context.Context, cfg Config) (*qfeature.Indexer, error) {
	if cfg.Cache == "" {
		ix, err := qfeature.NewIndexer(cfg.N, cfg.R, cfg.Labels, qfeature.NewIndexerOptions().Unrank(cfg.Unrank))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return ix, nil
	}

	s, err := store.Open(cfg.Cache)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer s.Close()
	ix, err := s.Indexer(ctx, cfg.N, cfg.R, cfg.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ix, nil
}

func outDir(cfg Config, fpath string) string {
	return filepath.Join(cfg.OutDir, filepath.Base(fpath))
}

// checkOutDirs fails if two files would write into the same output directory.
func checkOutDirs(cfg Config, fpaths []string) error {
	seen := make(map[string]string, len(fpaths))
	for _, fpath := range fpaths {
		dir := outDir(cfg, fpath)
		if prev, ok := seen[dir]; ok {
			return errors.Wrap(qfeature.ErrPrecondition, fmt.Sprintf("%s and %s both write to %s", prev, fpath, dir))
		}
		seen[dir] = fpath
	}
	return nil
}

type job struct {
	fpath string
	dir   string
	data  []float64
}

// load reads the coefficient files without a done marker, and checks that each has dim values.
func load(ctx context.Context, cfg Config, dim int, fpaths []string) ([]job, error) {
	loaded := make([]*job, len(fpaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, fpath := range fpaths {
		g.Go(func() error {
			dir := outDir(cfg, fpath)
			if _, err := os.Stat(filepath.Join(dir, fnameDone)); err == nil {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return errors.Wrap(err, "")
			}

			data, err := coeffs.ReadFile(fpath)
			if err != nil {
				return errors.Wrap(err, fpath)
			}
			if err := coeffs.CheckShape(data, dim); err != nil {
				return errors.Wrap(err, fpath)
			}
			loaded[i] = &job{fpath: fpath, dir: dir, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	jobs := make([]job, 0, len(fpaths))
	for _, j := range loaded {
		if j != nil {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

func process(ctx context.Context, cfg Config, ix *qfeature.Indexer, j job) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.MkdirAll(j.dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	entries, err := coeffs.Entries(ix, j.data, coeffs.Significant(j.data, cfg.Threshold))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeReport(filepath.Join(j.dir, fnameReport), entries); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeCSV(filepath.Join(j.dir, fnameCSV), j.data, cfg.Threshold); err != nil {
		return errors.Wrap(err, "")
	}

	summary := Summary{N: ix.N(), R: ix.Rank(), Labels: ix.Labels(), Summary: coeffs.Summarize(j.data, cfg.Threshold)}
	b, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(j.dir, fnameSummary), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(filepath.Join(j.dir, fnameDone), nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func writeReport(fpath string, entries []coeffs.Entry) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	err = coeffs.WriteReport(f, entries)
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func writeCSV(fpath string, data []float64, threshold float64) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	err = coeffs.WriteCSV(f, data, threshold)
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

type result struct {
	path    string
	summary Summary
	report  []byte
}

func gather(cfg Config, fpaths []string) ([]result, error) {
	results := make([]result, 0, len(fpaths))
	for _, fpath := range fpaths {
		dir := outDir(cfg, fpath)
		res := result{path: fpath}

		b, err := os.ReadFile(filepath.Join(dir, fnameSummary))
		if err != nil {
			return nil, errors.Wrap(err, fpath)
		}
		if err := json.Unmarshal(b, &res.summary); err != nil {
			return nil, errors.Wrap(err, fpath)
		}
		res.report, err = os.ReadFile(filepath.Join(dir, fnameReport))
		if err != nil {
			return nil, errors.Wrap(err, fpath)
		}
		results = append(results, res)
	}
	return results, nil
}

func run(ctx context.Context, cfg Config, fpaths []string) ([]result, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := checkOutDirs(cfg, fpaths); err != nil {
		return nil, errors.Wrap(err, "")
	}
	dim, err := qfeature.Dimension(cfg.N, cfg.R, len(cfg.Labels))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	// Shapes are checked before any feature is enumerated or cached.
	jobs, err := load(ctx, cfg, dim, fpaths)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(jobs) > 0 {
		if err := os.MkdirAll(cfg.OutDir, os.ModePerm); err != nil {
			return nil, errors.Wrap(err, "")
		}
		ix, err := newIndexer(ctx, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		log.Printf("n %d r %d labels %v dimension %d strategy %s", ix.N(), ix.Rank(), ix.Labels(), ix.Dimension(), ix.Strategy())

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Jobs)
		for _, j := range jobs {
			g.Go(func() error {
				if err := process(gctx, cfg, ix, j); err != nil {
					return errors.Wrap(err, j.fpath)
				}
				log.Printf("%s", j.fpath)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	results, err := gather(cfg, fpaths)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return results, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg, err := readConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	cfg.override(flag.CommandLine)
	if flag.NArg() == 0 {
		return errors.Errorf("no coefficient files")
	}

	results, err := run(context.Background(), cfg, flag.Args())
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("%#v", cfg))
	}

	for _, res := range results {
		s := res.summary
		fmt.Printf("%s size %d norm %.3f max %.3f significant %d\n", res.path, s.Size, s.Norm, s.MaxAbs, s.Significant)
		fmt.Printf("%s", res.report)
	}
	return nil
}
