// Package policy excludes build configurations with Open Policy Agent Rego
// rules.
//
// Every enabled policy is a Rego module that defines a "deny" set. Each
// candidate configuration produced by matrix expansion is passed as input:
//
//	{
//	  "id":             "3f2a9c0d51be",
//	  "reference":      {"name": "zlib", "version": "1.3.1", "user": "", "channel": ""},
//	  "settings":       {"os": "Linux", "compiler": "gcc", ...},
//	  "options":        {"zlib/*:shared": "True"},
//	  "env":            {"CXXFLAGS": "-O2"},
//	  "build_requires": {"*": ["ninja/1.11.1"]}
//	}
//
// Deny entries are either strings or objects with "message" and "severity".
// Entries of severity error or critical drop the configuration; lower
// severities are logged as warnings.
//
// Usage:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	spec.Exclusions = append(spec.Exclusions, engine.Exclusion(ctx))
//
// Policy files are .rego modules named after their file, JSON policies, or
// JSON bundles with a "policies" list. A leading "# severity: warning"
// comment lowers the default error severity of a .rego file.
package policy
