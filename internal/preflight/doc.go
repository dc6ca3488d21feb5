// Package preflight validates the dependencies of an index run before
// any index is created or replaced.
//
// The package checks:
//   - the product schema (analyzers, fields, sub-fields)
//   - the data directory (run journal and lock file location)
//   - Elasticsearch reachability and cluster health
//   - installed cluster plugins (informational)
//   - the catalog database connection
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithBackend(backend))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // abort the run
//	}
package preflight
