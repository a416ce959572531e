package vad

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ScanClass groups the scan IDs the instrument uses for one scanning pattern.
type ScanClass struct {
	Name string
	IDs  []int
	// Gap is the largest timestamp difference still considered part of the
	// same scan.
	Gap time.Duration
}

// Contains reports whether id belongs to the class.
func (c ScanClass) Contains(id int) bool {
	return slices.Contains(c.IDs, id)
}

const (
	vadGap = 120 * time.Second
	losGap = 59 * time.Second

	DefaultOutlierMargin = 40.0
	DefaultMinRSquared   = 0.1
	DefaultMaxIterations = 200
)

type Config struct {
	VAD ScanClass
	LOW ScanClass
	LOS ScanClass
	DBS ScanClass

	// OutlierMargin is the robust z-score above which a radial velocity is
	// masked before fitting.
	OutlierMargin float64
	// MinRSquared gates derivation of wind quantities from a fit.
	MinRSquared float64
	// MaxIterations bounds the Levenberg-Marquardt iterations per fit.
	MaxIterations int
	// Workers bounds concurrent range-bin fits within a scan.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		VAD:           ScanClass{Name: "VAD", IDs: []int{1, 2}, Gap: vadGap},
		LOW:           ScanClass{Name: "LOW", IDs: []int{3}, Gap: losGap},
		LOS:           ScanClass{Name: "LOS", IDs: []int{4, 5}, Gap: losGap},
		DBS:           ScanClass{Name: "DBS", IDs: []int{6}, Gap: losGap},
		OutlierMargin: DefaultOutlierMargin,
		MinRSquared:   DefaultMinRSquared,
		MaxIterations: DefaultMaxIterations,
		Workers:       4,
	}
}

// Classes returns the scan classes in a fixed order.
func (c Config) Classes() []ScanClass {
	return []ScanClass{c.VAD, c.LOW, c.LOS, c.DBS}
}

// Class looks up a scan class by name.
func (c Config) Class(name string) (ScanClass, bool) {
	for _, cl := range c.Classes() {
		if cl.Name == name {
			return cl, true
		}
	}
	return ScanClass{}, false
}

func (c Config) Validate() error {
	var errs []error
	seen := make(map[int]string)
	for _, cl := range c.Classes() {
		if cl.Gap <= 0 {
			errs = append(errs, fmt.Errorf("scan class %s: gap must be positive", cl.Name))
		}
		for _, id := range cl.IDs {
			if other, ok := seen[id]; ok {
				errs = append(errs, fmt.Errorf("scan id %d used by both %s and %s", id, other, cl.Name))
			}
			seen[id] = cl.Name
		}
	}
	if len(c.VAD.IDs) == 0 {
		errs = append(errs, errors.New("no VAD scan ids configured"))
	}
	if c.OutlierMargin <= 0 {
		errs = append(errs, fmt.Errorf("outlier margin %v must be positive", c.OutlierMargin))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations %d must be positive", c.MaxIterations))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers %d must be positive", c.Workers))
	}
	return errors.Join(errs...)
}

// clone returns a copy whose slices do not alias c's.
func (c Config) clone() Config {
	c.VAD.IDs = slices.Clone(c.VAD.IDs)
	c.LOW.IDs = slices.Clone(c.LOW.IDs)
	c.LOS.IDs = slices.Clone(c.LOS.IDs)
	c.DBS.IDs = slices.Clone(c.DBS.IDs)
	return c
}
