// Package stores keeps the build history of pkgmatrix runs in SQLite:
// one row per run, the outcome of each job and the events logged on the
// way. The schema is managed by embedded golang-migrate migrations.
package stores
