// Package aquapilot implements an autonomic control loop for water
// distribution infrastructure, built around the MAPE-K reference
// architecture (Monitor, Analyze, Plan, Execute, Knowledge).
//
// # Architecture
//
// A single control-loop instance owns command issuance for its asset set
// and drives a fixed five-stage cycle:
//
//	┌─────────────────────────────────────┐
//	│        Pipeline Template            │  Fixed stage order, timing,
//	│ (monitor→analyze→plan→execute→know) │  failure policy per pipeline
//	└─────────────────────────────────────┘
//	           ↓ consumes
//	┌─────────────────────────────────────┐
//	│ Gateway / Adapters / Analyzer /     │  Sensor normalization, scenario
//	│ Planner / Executor / Commands       │  strategies, reversible actions
//	└─────────────────────────────────────┘
//	           ↓ notify via
//	┌─────────────────────────────────────┐
//	│          Event Bus                  │  Filters, transformers, bounded
//	│  (in-process, observer isolation)   │  history, optional NATS bridge
//	└─────────────────────────────────────┘
//
// The adapter layer normalizes heterogeneous field-device protocols
// (Modbus TCP, SOAP/XML services, CSV file exchange, MQTT field buses)
// into one canonical sensor/command model. The executor wraps network
// dispatch in bounded retry and a circuit breaker. Commands are
// reversible: the invoker keeps bounded history with undo/redo stacks.
//
// Collaborators outside this module, such as device controllers and
// the knowledge database, are consumed through narrow interfaces
// (knowledge.ThresholdRepository, knowledge.PlanRepository,
// knowledge.CycleArchive).
//
// Shared mutable state is confined to the event bus and the command
// invoker, both of which serialize their bookkeeping internally; the
// bus and invoker are explicit instances passed by injection, never
// package-level singletons, so tests can run isolated loops.
package aquapilot
