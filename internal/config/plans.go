package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Plan describes a paid tier. MaxBatch bounds a single extraction run.
type Plan struct {
	Price        int      `yaml:"price"`
	DurationDays int      `yaml:"duration"`
	MaxBatch     int      `yaml:"max_batch"`
	Features     []string `yaml:"features"`
}

// Plans maps plan name to its definition.
type Plans map[string]Plan

// DefaultPlans returns the built-in plan table used when no PLANS_FILE is set.
func DefaultPlans() Plans {
	return Plans{
		"basic":   {Price: 99, DurationDays: 30, MaxBatch: 1000, Features: []string{"Fast extraction", "Custom captions", "Bulk download"}},
		"pro":     {Price: 199, DurationDays: 30, MaxBatch: 5000, Features: []string{"All Basic features", "Watermarks", "Priority support", "Transferable"}},
		"premium": {Price: 499, DurationDays: 30, MaxBatch: 10000, Features: []string{"All Pro features", "Unlimited transfers", "Custom branding", "API access"}},
	}
}

// LoadPlans reads a plans YAML file of the form
//
//	basic:
//	  price: 99
//	  duration: 30
//	  max_batch: 1000
func LoadPlans(path string) (Plans, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates plan YAML.
func ParsePlans(data []byte) (Plans, error) {
	var plans Plans
	if err := yaml.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if err := plans.Validate(); err != nil {
		return nil, err
	}
	return plans, nil
}

// Validate checks every plan has a positive batch limit and duration.
func (p Plans) Validate() error {
	if len(p) == 0 {
		return errors.New("no plans defined")
	}
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		plan := p[name]
		if plan.MaxBatch <= 0 {
			return fmt.Errorf("plan %q: max_batch must be positive", name)
		}
		if plan.DurationDays <= 0 {
			return fmt.Errorf("plan %q: duration must be positive", name)
		}
		if plan.Price < 0 {
			return fmt.Errorf("plan %q: price must be non-negative", name)
		}
	}
	return nil
}

// MaxBatch returns the largest batch limit across all plans.
func (p Plans) MaxBatch() int {
	max := 0
	for _, plan := range p {
		if plan.MaxBatch > max {
			max = plan.MaxBatch
		}
	}
	return max
}
