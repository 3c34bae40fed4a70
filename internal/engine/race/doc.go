// Package race detects race conditions in an extracted code graph.
//
// Detection reads a Project snapshot and a SharedStateMap (state key to
// accesses), keeps only keys whose scope prefix marks them as shared, and runs
// the pairwise strategies over each key. Every emitted pair is checked for a
// common lock, scored, and ordered so unmitigated high-severity races come
// first.
package race
