// Package conan wraps the Conan command line.
//
// NewClient runs `conan --version` and returns an adapter for Conan 1.x or
// Conan 2.x; both implement Client. Processes are started through a Runner so
// tests can substitute canned output. A recipe that refuses a configuration
// surfaces as a matrix.Error of class invalid; other create failures are
// permanent and upload failures are transient unless the remote rejected the
// credentials.
package conan
