// Package harness runs conformance scenarios against a complete runtime.
//
// Each scenario gets a fresh session: its own lazy backend, reference
// engine, fallback gate and dispatcher, recording into an in-memory store.
// Record IDs and sequence numbers come from deterministic generators, so the
// same scenario always produces the same trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	policy:
//	  main_thread: false
//	  force: [add]
//	backend:
//	  native: [add, mul]
//	steps:
//	  - invoke: add
//	    args:
//	      - tensor: {shape: [2], device: lazy, data: [1, 2]}
//	      - tensor: {shape: [2], device: lazy, data: [3, 4]}
//	    expect:
//	      route: fallback
//	      reason: forced
//	      outputs:
//	        - tensor: {shape: [2], device: lazy, data: [4, 6]}
//	assertions:
//	  - type: route_count
//	    route: fallback
//	    count: 1
//	  - type: no_fallback
//	    ops: [mul]
//
// # Assertion Types
//
//   - route_count: exactly count calls took route (optionally reason, op)
//   - fallback_ops: the operators that fell back are exactly ops
//   - no_fallback: none of ops fell back; without ops, no call did
//   - trace_order: ops were first called in the given order
//
// # Deterministic Testing
//
// Record IDs are "rec-0001", "rec-0002", ... and sequence numbers start at
// 1 for every run, so traces can be compared byte for byte against golden
// files.
package harness
