// Package config loads build matrix declarations and runtime settings.
//
// # Overview
//
// A matrix file declares the package reference, a base configuration, the
// dimensions to expand, optional common compiler builds, exclusions and
// inclusions. Three formats are accepted and decode into the same MatrixFile:
//
//   - CUE (.cue files or a directory loaded as a CUE package)
//   - YAML (.yaml, .yml)
//   - JSON with comments (.json, .jsonc)
//
// Every file is validated twice: go-playground/validator struct tags catch
// missing fields and unknown kinds, and the built-in CUE #Matrix schema in
// SchemaRegistry checks the shape of the whole document.
//
// # Exclusions
//
// Exclusions are Starlark expressions compiled once by CompileExclusion and
// evaluated per candidate with four dicts in scope:
//
//	settings["os"] == "Windows" and options.get("zlib/*:shared") == "True"
//	settings["compiler"] == "clang" and "ninja/1.11.1" in build_requires.get("*", [])
//
// A file may also carry a Starlark script; its global "inclusions" list is
// appended to the declared inclusions.
//
// # Usage Example
//
//	loader := config.NewLoader()
//	parsed, err := loader.Load(ctx, "matrix.cue")
//	if err != nil {
//	    return err
//	}
//	if parsed.HasErrors() {
//	    return fmt.Errorf("invalid matrix: %v", parsed.Errors)
//	}
//	specs, err := loader.Specs(ctx, parsed.File, config.SpecOptions{OS: "Linux", Generation: 2})
//
// # Settings
//
// Settings collects the CONAN_* and PKGMATRIX_* variables through an explicit
// Lookup, so nothing reads the process environment after start-up.
package config
