// Package edgeflow provides an embeddable interpreter for JSON-encoded
// workflow graphs.
//
// A workflow is a document whose "workflow" array lists steps; each step maps
// a node type to a configuration object, and the configuration's suffixed
// keys carry control flow: "outcome?" keys route the node's named outcomes to
// nested steps or to jump references, and a "type..." key marks the node as a
// loop. The interpreter walks that structure, executes the registered
// capability for each node, and routes on the single named outcome every
// execution produces.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Definition
//  2. Registry and Capability
//  3. Engine (Runner)
//  4. State
//  5. Broadcaster
//  6. LocalRunner
//
// # Definition
//
// ParseDefinition turns a JSON document into a typed Definition, preserving
// step order and validating edge keys. FlowBuilder offers the same structure
// as a fluent Go API:
//
//	def := edgeflow.New("sync", "Sync").
//	    Node("database", edgeflow.Config{"operation": "query"},
//	        edgeflow.On("success", edgeflow.Next("log", edgeflow.Config{"message": "ok"})),
//	        edgeflow.On("error", edgeflow.Next("log", edgeflow.Config{"level": "error"})),
//	    ).
//	    MustBuild()
//
// # Registry and Capability
//
// A Capability executes one node type and returns an Outcome. Capabilities
// register under their type name; registration is last-write-wins, so
// embedders can override the built-ins in package nodes.
//
// # Engine
//
// NewEngine binds a registry into a Runner. Runs are bounded by a step cap,
// honor per-node timeouts, stop between node executions on context
// cancellation, and report everything they do through an Observer (in
// process) and an Emitter (outbound events).
//
// # State
//
// Each run owns a State document. Configuration values reference it with
// "$.path" for typed reads and "{{$.path}}" for string interpolation, and
// nodes write through "$."-prefixed configuration keys.
//
// # Broadcaster
//
// The Broadcaster routes events to category listeners and to one remote
// channel, typically a WebSocket. While the channel is down events collect in
// a bounded buffer that drops oldest-first; on reconnect the buffer flushes
// in order before new events flow.
//
// # LocalRunner
//
// LocalRunner bundles a registry preloaded with built-in nodes, a
// broadcaster, metrics, and an in-memory run history into a single-process
// runtime for development and embedding.
//
// For examples, see the /examples directory or the project README.
package edgeflow
