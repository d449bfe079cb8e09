// Package engine orders the parts of a project and composes the shell
// environment each part is built in.
//
// # Overview
//
// A project is a set of parts. Each part names the parts it must be built
// after. The engine works in three phases:
//
//  1. Graph - Register parts in a DependencyGraph and compute a build order
//  2. Environment - Compose the ordered assignments a part's build sees (EnvironmentBuilder)
//  3. Build - Run every part's build step in dependency order (BuildScheduler)
//
// # Build Order
//
// Finalize validates the graph once: every dependency must name a declared
// part and the graph must be acyclic. Among the parts whose dependencies
// are already ordered, the one declared first is placed next, so the order
// is deterministic for a given declaration order.
//
// # Environment Layers
//
// A part's environment is the concatenation of four layers:
//
//   - project: architecture, project metadata, stage and prime directories
//   - search-paths: PATH, compiler and linker flags, library and pkg-config paths
//   - part: the part's own directories and the parallel build count
//   - overrides: the part's build-environment entries, root part only
//
// Values are emitted verbatim and may reference earlier names or the
// inherited environment. A shell applying the assignments in order sees
// later layers take precedence.
//
// # Error Classification
//
// Errors carry a class and a stable code:
//
//   - Permanent: invalid graphs, probe failures, failed build steps
//   - Canceled: work that stopped because its context was canceled
//
// Use ErrorCode, CycleOf and errors.Is with the package sentinels to
// inspect them:
//
//	if errors.Is(err, ErrCyclicDependency) {
//	    fmt.Println(CycleOf(err))
//	}
//
// # Thread Safety
//
// A finalized DependencyGraph is read-only and safe for concurrent use.
// EnvironmentBuilder holds no mutable state beyond its parallelism
// detector, which computes its value once.
package engine
