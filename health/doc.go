// Package health reports whether the cache can serve traffic.
//
// A Checker inspects one component and returns a Result whose Status is
// Healthy, Degraded or Unhealthy. The cache ships three checkers:
//
//   - StoreChecker pings the exact store. A failing store is Unhealthy.
//   - SemanticChecker reports the similarity layer. Because semantic lookups
//     are optional, a disabled index or an open embedding circuit is only
//     Degraded.
//   - CapacityChecker compares store usage with the retention policy and
//     reports Degraded when the cache runs close to its bounds.
//
// An Aggregator runs registered checkers in parallel under a timeout and
// folds their results into a Report. The handlers in http.go expose the
// report as liveness, readiness and detailed JSON endpoints:
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker("store", mgr))
//	agg.Register(health.NewSemanticChecker("semantic", mgr))
//	health.RegisterRoutes(router, agg)
package health
