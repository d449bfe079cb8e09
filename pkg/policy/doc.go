// Package policy lints project manifests with Open Policy Agent.
//
// Policies are Rego modules that define a deny set under their package.
// Each deny entry is either a message string or an object with "message",
// optional "part" and optional "severity" keys. Entries with error
// severity make the manifest fail the lint; the rest are reported as
// warnings.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, manifest)
//	if err != nil {
//	    return err
//	}
//	for _, v := range result.Violations {
//	    fmt.Printf("%s:%d: %s (%s)\n", manifest.Path, v.Line, v.Message, v.Policy)
//	}
//
// # Input
//
// Policies see the manifest document under input.manifest and the parts, in
// declaration order, under input.parts:
//
//	{
//	  "manifest": {"name": "hello", "grade": "stable", ...},
//	  "parts": [
//	    {"name": "hello", "plugin": "nil", "after": ["libfoo"],
//	     "environment": [{"name": "CFLAGS", "value": "-O2"}]}
//	  ],
//	  "context": {"timestamp": "...", "operation": "lint"}
//	}
//
// # Policy Files
//
// The loader reads .rego and .json files. A .rego file is named after the
// file; its leading comment block is the description and may carry
// metadata lines:
//
//	# Forbid the legacy plugin.
//	# severity: error
//	# tags: plugins
//	package custom.plugins
//
// Files without a severity line default to warning. Watch reloads the
// policies after the files change.
//
// # Built-in Policies
//
//   - part-naming: part names follow the naming rules and are not reserved
//   - reserved-environment: build-environment does not redefine SNAPCRAFT_*
//   - self-dependency: no part lists itself in after
//   - devmode-grade: stable grade is not combined with devmode confinement
package policy
