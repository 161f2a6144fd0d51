package matrix

// Exclusion decides whether a candidate configuration is dropped from the matrix.
// Implementations must depend only on the candidate they are given.
type Exclusion interface {
	Excludes(cfg BuildConfiguration) (bool, error)
}

// ExclusionFunc adapts a plain function to the Exclusion interface.
type ExclusionFunc func(cfg BuildConfiguration) (bool, error)

// Excludes calls f(cfg).
func (f ExclusionFunc) Excludes(cfg BuildConfiguration) (bool, error) {
	return f(cfg)
}

// SettingEquals excludes candidates whose setting key has the given value.
func SettingEquals(key, value string) Exclusion {
	return ExclusionFunc(func(cfg BuildConfiguration) (bool, error) {
		v, ok := cfg.Settings[key]
		return ok && v == value, nil
	})
}

// OptionEquals excludes candidates whose option key has the given value.
func OptionEquals(key, value string) Exclusion {
	return ExclusionFunc(func(cfg BuildConfiguration) (bool, error) {
		v, ok := cfg.Options[key]
		return ok && v == value, nil
	})
}

// AllOf excludes a candidate only when every exclusion matches it.
func AllOf(exclusions ...Exclusion) Exclusion {
	return ExclusionFunc(func(cfg BuildConfiguration) (bool, error) {
		if len(exclusions) == 0 {
			return false, nil
		}
		for _, e := range exclusions {
			hit, err := e.Excludes(cfg)
			if err != nil || !hit {
				return false, err
			}
		}
		return true, nil
	})
}

// AnyOf excludes a candidate when at least one exclusion matches it.
func AnyOf(exclusions ...Exclusion) Exclusion {
	return ExclusionFunc(func(cfg BuildConfiguration) (bool, error) {
		for _, e := range exclusions {
			hit, err := e.Excludes(cfg)
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
		return false, nil
	})
}
