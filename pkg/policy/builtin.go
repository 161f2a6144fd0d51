package policy

// GetBuiltinPolicies returns the built-in configuration sanity policies.
// They reject combinations no Conan toolchain can build.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		compilerOSPolicy(),
		libcxxPolicy(),
		msvcRuntimePolicy(),
		buildTypePolicy(),
	}
}

// compilerOSPolicy pins vendor compilers to their platform.
func compilerOSPolicy() Policy {
	return Policy{
		Name:        "compiler-os",
		Description: "msvc only targets Windows and apple-clang only targets Macos",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"compiler", "platform"},
		Rego: `package pkgmatrix.builtin.compiler_os

import rego.v1

deny contains violation if {
	input.settings.compiler == "msvc"
	input.settings.os != "Windows"
	violation := {
		"message": sprintf("msvc cannot build for %s", [input.settings.os]),
		"severity": "error",
	}
}

deny contains violation if {
	input.settings.compiler == "apple-clang"
	input.settings.os != "Macos"
	violation := {
		"message": sprintf("apple-clang cannot build for %s", [input.settings.os]),
		"severity": "error",
	}
}
`,
	}
}

// libcxxPolicy rejects standard libraries the compiler does not ship.
func libcxxPolicy() Policy {
	return Policy{
		Name:        "compiler-libcxx",
		Description: "gcc does not use libc++ and msvc has no libcxx setting",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"compiler", "libcxx"},
		Rego: `package pkgmatrix.builtin.libcxx

import rego.v1

deny contains violation if {
	input.settings.compiler == "gcc"
	input.settings["compiler.libcxx"] == "libc++"
	violation := "gcc does not support compiler.libcxx=libc++"
}

deny contains violation if {
	input.settings.compiler == "msvc"
	libcxx := input.settings["compiler.libcxx"]
	violation := sprintf("msvc does not take compiler.libcxx (got %s)", [libcxx])
}
`,
	}
}

// msvcRuntimePolicy rejects compiler.runtime outside msvc.
func msvcRuntimePolicy() Policy {
	return Policy{
		Name:        "msvc-runtime",
		Description: "compiler.runtime is only meaningful for msvc",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"compiler", "msvc"},
		Rego: `package pkgmatrix.builtin.msvc_runtime

import rego.v1

deny contains violation if {
	runtime := input.settings["compiler.runtime"]
	input.settings.compiler != "msvc"
	violation := sprintf("compiler.runtime=%s requires msvc, got %s", [runtime, input.settings.compiler])
}
`,
	}
}

// buildTypePolicy warns about configurations without a build type.
func buildTypePolicy() Policy {
	return Policy{
		Name:        "build-type",
		Description: "Configurations should set build_type",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"settings"},
		Rego: `package pkgmatrix.builtin.build_type

import rego.v1

deny contains violation if {
	input.settings.compiler
	not input.settings.build_type
	violation := {
		"message": sprintf("configuration %s has no build_type", [input.id]),
		"severity": "warning",
	}
}
`,
	}
}
