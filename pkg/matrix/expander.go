package matrix

import (
	"fmt"
)

// Spec declares one build matrix.
type Spec struct {
	// Reference is the package every job builds. Name and version are required.
	Reference Reference

	// Dimensions are expanded in declared order; the last one varies fastest.
	Dimensions []Dimension

	// Base is merged into every candidate before the dimension values are applied.
	Base BuildConfiguration

	// Exclusions drop candidates. The first matching exclusion wins.
	Exclusions []Exclusion

	// Inclusions are explicit extra configurations appended after the generated ones.
	Inclusions []BuildConfiguration
}

// Validate checks the spec without expanding it.
func (s Spec) Validate() error {
	if err := s.Reference.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Dimensions))
	for i, d := range s.Dimensions {
		if d.Name == "" {
			return NewConfigurationError(fmt.Sprintf("dimension %d has no name", i), nil)
		}
		if !d.Kind.Valid() {
			return NewConfigurationError(fmt.Sprintf("unknown dimension kind %q", d.Kind), nil).
				WithDimension(d.Name)
		}
		if len(d.Values) == 0 {
			return NewConfigurationError("dimension declared without values", nil).
				WithDimension(d.Name).
				WithCode(ErrCodeEmptyDimension)
		}
		key := string(d.Kind) + "/" + d.Name
		if seen[key] {
			return NewConfigurationError("dimension declared twice", nil).WithDimension(d.Name)
		}
		seen[key] = true
	}
	return nil
}

// Expand produces the ordered, de-duplicated job list for spec.
func Expand(spec Spec) (JobList, error) {
	jobs, _, err := ExpandWithStats(spec)
	return jobs, err
}

// ExpandWithStats is Expand plus counters for candidates, exclusions and duplicates.
func ExpandWithStats(spec Spec) (JobList, Stats, error) {
	e := newExpander()
	if err := e.expand(spec); err != nil {
		return nil, Stats{}, err
	}
	return e.jobs, e.stats, nil
}

// ExpandAll expands several specs and concatenates the results with a single
// de-duplication set, so a configuration produced by two specs appears once.
func ExpandAll(specs ...Spec) (JobList, Stats, error) {
	e := newExpander()
	for _, s := range specs {
		if err := e.expand(s); err != nil {
			return nil, Stats{}, err
		}
	}
	return e.jobs, e.stats, nil
}

type expander struct {
	seen  map[string]struct{}
	jobs  JobList
	stats Stats
}

func newExpander() *expander {
	return &expander{seen: make(map[string]struct{})}
}

// expand is all-or-nothing: on error nothing from spec is kept.
func (e *expander) expand(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	base := NewBuildConfiguration().Merge(spec.Base)
	base.Reference = spec.Reference

	var (
		pending JobList
		stats   Stats
		local   = make(map[string]struct{})
	)

	accept := func(cand BuildConfiguration) error {
		stats.Candidates++
		for _, ex := range spec.Exclusions {
			hit, err := ex.Excludes(cand)
			if err != nil {
				return NewConfigurationError("exclusion predicate failed", err).
					WithCode(ErrCodeExclusionFailed).
					WithDetail("configuration", cand.String())
			}
			if hit {
				stats.Excluded++
				return nil
			}
		}
		sig := cand.Signature()
		if _, dup := e.seen[sig]; dup {
			stats.Duplicates++
			return nil
		}
		if _, dup := local[sig]; dup {
			stats.Duplicates++
			return nil
		}
		local[sig] = struct{}{}
		pending = append(pending, cand)
		return nil
	}

	// Odometer over the dimension value indexes.
	idx := make([]int, len(spec.Dimensions))
	for {
		cand := base.Clone()
		for i, d := range spec.Dimensions {
			cand.set(d, d.Values[idx[i]])
		}
		if err := accept(cand); err != nil {
			return err
		}

		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(spec.Dimensions[i].Values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}

	for _, inc := range spec.Inclusions {
		cand := base.Merge(inc)
		cand.Reference = spec.Reference
		if err := accept(cand); err != nil {
			return err
		}
	}

	for sig := range local {
		e.seen[sig] = struct{}{}
	}
	stats.Jobs = len(pending)
	e.jobs = append(e.jobs, pending...)
	e.stats.add(stats)
	return nil
}
