// Package config loads the tile configuration of an optimizer run.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"tileopt/extract"
	"tileopt/internal/util"
	"tileopt/rewrite"
	"tileopt/tile"
)

// Kernels that can be optimized.
const (
	KernelAttention = "attention"
	KernelGEMM      = "gemm"
)

// Tile describes one input tile.
type Tile struct {
	Rows       int `json:"rows" yaml:"rows"`
	Cols       int `json:"cols" yaml:"cols"`
	DTypeBytes int `json:"dtype_bytes" yaml:"dtype_bytes"`
	LoopIters  int `json:"loop_iters" yaml:"loop_iters"`
}

// Config is the configuration of one run.
type Config struct {
	// Kernel is "attention" (tiles Q, K, V) or "gemm" (tiles A, B).
	Kernel string `json:"kernel" yaml:"kernel"`
	// AccumDTypeBytes is the element width of matmul accumulators.
	AccumDTypeBytes int `json:"accum_dtype_bytes" yaml:"accum_dtype_bytes"`
	// MaxIterations bounds equality saturation.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// MaxSolutions bounds the enumeration of tied optima.
	MaxSolutions int             `json:"max_solutions" yaml:"max_solutions"`
	Tiles        map[string]Tile `json:"tiles" yaml:"tiles"`
}

// Default returns the attention block with fp16 Q, K and V, K and V streamed over 8 loop
// iterations, and fp32 accumulators.
func Default() Config {
	return Config{
		Kernel:          KernelAttention,
		AccumDTypeBytes: 4,
		MaxIterations:   rewrite.DefaultMaxIterations,
		MaxSolutions:    extract.DefaultMaxSolutions,
		Tiles: map[string]Tile{
			"Q": {Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 1},
			"K": {Rows: 64, Cols: 128, DTypeBytes: 2, LoopIters: 8},
			"V": {Rows: 128, Cols: 64, DTypeBytes: 2, LoopIters: 8},
		},
	}
}

// Load reads a YAML or JSON configuration from path. Fields absent from the file keep their
// Default values; a tiles section replaces the default tiles.
func Load(path string) (Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrap(err, "reading config file")
	}
	config.Tiles = nil
	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, &config); err != nil {
		if jsonErr := json.Unmarshal(data, &config); jsonErr != nil {
			return config, errors.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %v", err, jsonErr)
		}
	}
	if config.Tiles == nil {
		config.Tiles = Default().Tiles
	}
	if err := config.Validate(); err != nil {
		return config, errors.Wrapf(err, "invalid config %s", path)
	}
	return config, nil
}

// TileNames returns the tiles the kernel reads, in operand order.
func (c Config) TileNames() []string {
	if c.Kernel == KernelGEMM {
		return []string{"A", "B"}
	}
	return []string{"Q", "K", "V"}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs error
	if c.Kernel != KernelAttention && c.Kernel != KernelGEMM {
		errs = multierr.Append(errs, errors.Errorf("kernel must be %q or %q, got %q", KernelAttention, KernelGEMM, c.Kernel))
	}
	if c.AccumDTypeBytes < 1 {
		errs = multierr.Append(errs, errors.New("accum_dtype_bytes must be >= 1"))
	}
	if c.MaxIterations < 1 {
		errs = multierr.Append(errs, errors.New("max_iterations must be >= 1"))
	}
	if c.MaxSolutions < 1 {
		errs = multierr.Append(errs, errors.New("max_solutions must be >= 1"))
	}
	for _, name := range c.TileNames() {
		t, ok := c.Tiles[name]
		if !ok {
			errs = multierr.Append(errs, errors.Errorf("tiles.%s is missing", name))
			continue
		}
		for _, field := range []struct {
			name  string
			value int
		}{
			{"rows", t.Rows},
			{"cols", t.Cols},
			{"dtype_bytes", t.DTypeBytes},
			{"loop_iters", t.LoopIters},
		} {
			if field.value < 1 {
				errs = multierr.Append(errs, errors.Errorf("tiles.%s.%s must be >= 1, got %d", name, field.name, field.value))
			}
		}
	}
	for _, name := range util.SortedKeys(c.Tiles) {
		if !containsName(c.TileNames(), name) {
			errs = multierr.Append(errs, errors.Errorf("tiles.%s is not read by kernel %q", name, c.Kernel))
		}
	}
	if c.Kernel == KernelGEMM {
		a, b := c.Tiles["A"], c.Tiles["B"]
		if a.Cols > 0 && b.Rows > 0 && a.Cols != b.Rows {
			errs = multierr.Append(errs, errors.Errorf("tiles.A.cols (%d) must equal tiles.B.rows (%d)", a.Cols, b.Rows))
		}
	} else {
		q, k := c.Tiles["Q"], c.Tiles["K"]
		if q.Cols > 0 && k.Rows > 0 && q.Cols != k.Rows {
			errs = multierr.Append(errs, errors.Errorf("tiles.Q.cols (%d) must equal tiles.K.rows (%d)", q.Cols, k.Rows))
		}
		v := c.Tiles["V"]
		if k.Cols > 0 && v.Rows > 0 && k.Cols != v.Rows {
			errs = multierr.Append(errs, errors.Errorf("tiles.K.cols (%d) must equal tiles.V.rows (%d)", k.Cols, v.Rows))
		}
	}
	return errs
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Spec returns the input tile called name.
func (c Config) Spec(name string) tile.Spec {
	t := c.Tiles[name]
	return tile.Spec{Name: name, Rows: t.Rows, Cols: t.Cols, DTypeBytes: t.DTypeBytes, LoopIters: t.LoopIters}
}

func (c Config) String() string {
	s := fmt.Sprintf("%s accum=%dB", c.Kernel, c.AccumDTypeBytes)
	for _, name := range c.TileNames() {
		s += " " + c.Spec(name).String()
	}
	return s
}
