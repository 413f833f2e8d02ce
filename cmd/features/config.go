package main

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fumin/qfeature"
	"github.com/fumin/qfeature/coeffs"
)

var (
	defaultOutDir = filepath.Join("runs", "features")
)

// Config is a feature extraction run.
// Values in a YAML file are overridden by flags given on the command line.
type Config struct {
	N         int      `yaml:"n"`
	R         int      `yaml:"r"`
	Labels    []string `yaml:"labels"`
	Threshold float64  `yaml:"threshold"`
	Cache     string   `yaml:"cache"`
	OutDir    string   `yaml:"out_dir"`
	Jobs      int      `yaml:"jobs"`
	Unrank    bool     `yaml:"unrank"`
}

func defaultConfig() Config {
	return Config{
		Labels:    slices.Clone(qfeature.DefaultLabels),
		Threshold: coeffs.DefaultThreshold,
		OutDir:    defaultOutDir,
		Jobs:      runtime.NumCPU(),
	}
}

func readConfig(fpath string) (Config, error) {
	cfg := defaultConfig()
	if fpath == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(fpath)
	if err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, fpath)
	}
	return cfg, nil
}

// override copies the flags of fs that were set explicitly into cfg.
func (cfg *Config) override(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		v := getter.Get()
		switch f.Name {
		case "n":
			cfg.N = v.(int)
		case "r":
			cfg.R = v.(int)
		case "labels":
			cfg.Labels = splitLabels(v.(string))
		case "threshold":
			cfg.Threshold = v.(float64)
		case "cache":
			cfg.Cache = v.(string)
		case "d":
			cfg.OutDir = v.(string)
		case "j":
			cfg.Jobs = v.(int)
		case "unrank":
			cfg.Unrank = v.(bool)
		}
	})
}

func (cfg Config) validate() error {
	if len(cfg.Labels) == 0 {
		return errors.Wrap(qfeature.ErrPrecondition, "no labels")
	}
	if cfg.Jobs < 1 {
		return errors.Wrap(qfeature.ErrPrecondition, "jobs")
	}
	if cfg.OutDir == "" {
		return errors.Wrap(qfeature.ErrPrecondition, "no output directory")
	}
	if cfg.Cache != "" && cfg.Unrank {
		return errors.Wrap(qfeature.ErrPrecondition, "cache stores enumerated lists, unrank computes without one")
	}
	if _, err := qfeature.Dimension(cfg.N, cfg.R, len(cfg.Labels)); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func splitLabels(s string) []string {
	labels := make([]string, 0)
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
