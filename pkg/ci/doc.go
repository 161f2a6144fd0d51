// Package ci reads the build context of the CI service running pkgmatrix.
//
// Detect picks a Provider from well-known environment markers and falls
// back to the local git repository. Manager layers the commit message
// directives ([skip ci], [build=<policy>]) and stable-branch matching on top.
package ci
