// Package harness runs YAML history scenarios against a document machine.
//
// A scenario drives a fresh machine (in-memory storage, empty document,
// sequential ids a1, a2, ...) through a list of steps and checks the end
// result.
//
// # Scenario Format
//
//	name: both_sides_edit
//	description: "Counters merge, names conflict and keep ours"
//	resolve:
//	  default: ours
//	  paths: { counters: both }
//	steps:
//	  - op: init
//	    label: root
//	  - op: set
//	    path: profile.name
//	    value: "ann"
//	    label: left
//	  - op: checkout
//	    ref: root
//	  - op: inc
//	    path: counters.visits
//	    value: 2
//	  - op: merge
//	    ref: left
//	    label: m
//	expect:
//	  state: { profile: { name: "ann" } }
//	  current: m
//	  resolver_calls: 0
//	  graph_entries: 4
//
// # Step Ops
//
//   - init: record the root action
//   - set, inc, del: run a document op at path
//   - undo, redo: undo or redo the action ref
//   - undo_last: undo the current action
//   - undo_merge: undo the merge ref into its parent branch parent
//   - checkout: move to ref
//   - merge: merge ref into the current action
//
// label binds the resulting action id; ref accepts a label or a raw id. A
// step with error: <code> must fail with that history error code instead.
//
// # Golden Traces
//
// RunWithGolden snapshots the per-step trace, the final document and the
// rendered graph as canonical JSON under testdata/golden.
package harness
