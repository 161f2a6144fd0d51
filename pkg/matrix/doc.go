// Package matrix expands build dimensions into the ordered list of package builds.
//
// # Overview
//
// A Spec declares the package Reference, a Base configuration, the Dimensions to
// vary and the Exclusions and Inclusions that shape the result. Expand walks the
// cartesian product of the dimensions in declared order (the last dimension varies
// fastest) and yields a JobList:
//
//  1. Base is merged into every candidate, dimension values override it
//  2. Each candidate is tested against the exclusions, the first match drops it
//  3. Candidates whose settings+options signature was already produced are dropped
//  4. Inclusions are appended, subject to the same exclusion and de-duplication rules
//
// Expansion is deterministic: the same Spec always yields the same JobList in the
// same order.
//
// # Paging
//
// Split shards a JobList across parallel CI workers. Pages are contiguous and
// balanced, so each worker can build its page without coordinating with the others:
//
//	jobs, _ := matrix.Expand(spec)
//	mine, err := matrix.Split(jobs, 2, 4) // second of four pages
//
// # Error Classification
//
// Errors are *Error values carrying an ErrorClass:
//
//   - Configuration: malformed matrix input or page parameters, never retried
//   - Invalid: the recipe refused a configuration, the job is skipped
//   - Transient: temporary failures that may succeed on retry
//   - Permanent: non-recoverable build or upload errors
package matrix
