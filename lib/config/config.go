/*package config reads the mesh-control parameter file. Only the options the
adapt subsystem recognizes live here; solver and I/O parameters belong to
their own sections elsewhere.
*/
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/gcfg.v1"

	"github.com/astromesh/amr/lib/mesh"
)

// Config holds the recognized mesh-control options.
type Config struct {
	Mesh struct {
		Rank          int  `gcfg:"rank"`
		MaxLevel      int  `gcfg:"max-level"`
		AdaptInterval int  `gcfg:"adapt-interval"`
		RootBlocksX   int  `gcfg:"root-blocks-x"`
		RootBlocksY   int  `gcfg:"root-blocks-y"`
		RootBlocksZ   int  `gcfg:"root-blocks-z"`
		PeriodicX     bool `gcfg:"periodic-x"`
		PeriodicY     bool `gcfg:"periodic-y"`
		PeriodicZ     bool `gcfg:"periodic-z"`
		BlockCellsX   int  `gcfg:"block-cells-x"`
		BlockCellsY   int  `gcfg:"block-cells-y"`
		BlockCellsZ   int  `gcfg:"block-cells-z"`
	}
	Initial struct {
		Cycle int `gcfg:"cycle"`
	}
}

// Default returns the configuration used when no parameter file overrides
// it: a single periodic root tree of 4^rank cells per block, no refinement.
func Default() *Config {
	c := &Config{}
	c.Mesh.Rank = 3
	c.Mesh.MaxLevel = 0
	c.Mesh.AdaptInterval = 1
	c.Mesh.RootBlocksX, c.Mesh.RootBlocksY, c.Mesh.RootBlocksZ = 1, 1, 1
	c.Mesh.PeriodicX, c.Mesh.PeriodicY, c.Mesh.PeriodicZ = true, true, true
	c.Mesh.BlockCellsX, c.Mesh.BlockCellsY, c.Mesh.BlockCellsZ = 4, 4, 4
	c.Initial.Cycle = 0
	return c
}

// ReadFile reads a parameter file on top of the defaults.
func ReadFile(path string) (*Config, error) {
	c := Default()
	if err := gcfg.ReadFileInto(c, path); err != nil {
		return nil, errors.Wrapf(err, "could not read parameter file %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "parameter file %s", path)
	}
	return c, nil
}

// ReadString parses parameter text on top of the defaults.
func ReadString(text string) (*Config, error) {
	c := Default()
	if err := gcfg.ReadStringInto(c, text); err != nil {
		return nil, errors.Wrap(err, "could not parse parameters")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks option ranges. Geometry errors surface through
// mesh.Geometry.Validate so the messages match wherever the geometry came
// from.
func (c *Config) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return errors.WithStack(err)
	}
	if c.Mesh.MaxLevel < 0 || c.Mesh.MaxLevel > mesh.MaxLevel {
		return errors.Errorf("mesh max-level %d outside [0, %d]",
			c.Mesh.MaxLevel, mesh.MaxLevel)
	}
	if c.Mesh.AdaptInterval < 0 {
		return errors.Errorf("mesh adapt-interval %d is negative",
			c.Mesh.AdaptInterval)
	}
	n := [3]int{c.Mesh.BlockCellsX, c.Mesh.BlockCellsY, c.Mesh.BlockCellsZ}
	for a := 0; a < 3; a++ {
		if a < c.Mesh.Rank {
			if n[a] < 2 || n[a]%2 != 0 {
				return errors.Errorf(
					"axis %d needs an even, positive cell count, not %d", a, n[a])
			}
		} else if n[a] != 1 {
			return errors.Errorf(
				"axis %d is beyond rank %d and must have 1 cell, not %d",
				a, c.Mesh.Rank, n[a])
		}
	}
	return nil
}

// Geometry returns the forest geometry the options describe.
func (c *Config) Geometry() mesh.Geometry {
	return mesh.Geometry{
		Rank: c.Mesh.Rank,
		Roots: [3]int32{
			int32(c.Mesh.RootBlocksX),
			int32(c.Mesh.RootBlocksY),
			int32(c.Mesh.RootBlocksZ),
		},
		Periodic: [3]bool{c.Mesh.PeriodicX, c.Mesh.PeriodicY, c.Mesh.PeriodicZ},
	}
}
