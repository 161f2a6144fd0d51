// Package packager drives a packaging run end to end.
//
// A run prepares the package manager (shared config, global.conf, remotes),
// reads the CI context, expands the build matrix and keeps the page assigned
// to this worker, then builds every job of the page with the selected runner.
// Builds stop at the first failure; configurations the recipe refuses are
// reported and skipped. When the page is done the summary file is written,
// the run is recorded in the history store and, if configured, the summary
// is mirrored to object storage.
//
// Upload gating follows the CI context:
//
//   - pull requests never upload,
//   - UploadOnlyWhenTag requires a tag build ("Skipping upload, not tag branch"),
//   - UploadOnlyWhenStable requires the stable channel.
//
// The channel is the stable channel on branches matching the stable
// patterns, and on tag builds when StableTagChannel or UploadOnlyWhenTag is
// set.
package packager
