// Package api contains the core building blocks of the edgeflow workflow
// engine: the typed workflow definition model, the capability and registry
// contracts, the shared execution state, the event union consumed by the
// broadcaster, and the error taxonomy.
//
// Most users interact with the higher-level edgeflow package, which
// re-exports selected types and helpers from this package. The api package
// is intended for advanced use cases, custom integrations, or contributors
// extending the engine itself.
//
// # Definitions
//
// A workflow arrives as a JSON document whose control flow is encoded in key
// suffixes: "?" marks a named outcome edge, "..." marks a loop node.
// ParseDefinition converts that convention into the explicit typed form
// (Definition, Step, NodeInvocation, Target) exactly once; the interpreter
// and the static analyzers operate only on the typed form.
//
// Definitions are immutable during execution. Each run owns its own State
// and ExecutionContext; nothing survives the run.
//
// # Capabilities
//
// A Capability is the executable behavior registered under a node-type
// identifier. Executing a node produces exactly one Outcome, whose name the
// interpreter matches against the node's edges to choose the next step.
// Producing zero or multiple outcomes is a node-implementation defect.
//
// # Events and Observability
//
// Event is a tagged union over workflow lifecycle, node execution, progress,
// error and system notifications. The interpreter hands events to an
// Emitter; the broadcast package implements buffering delivery to a remote
// channel. The Observer interface is the in-process side: logging
// (LoggingObserver), metrics (BasicMetrics) and composition
// (CompositeObserver) follow the usual patterns.
package api
