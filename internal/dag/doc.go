// Package dag defines the action history graph: the immutable Init, Normal
// and Merge nodes, the scope descriptors that feed conflict detection, the
// error taxonomy shared by every layer, and lazy newest-first sequences over
// histories.
//
// Actions are generic over the payload type T and the undo value U that the
// payload produced when it was applied. Nothing in this package knows what a
// payload means; scopes are obtained through a caller-supplied function.
//
// Invariants:
//   - Ids are unique across every replica that may sync and are never reused.
//   - A stored action is never mutated.
//   - Depth strictly increases along every parent edge away from the root.
package dag
