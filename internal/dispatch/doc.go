// Package dispatch decides which behaviour claims each cube of a loading module.
//
// The Interface keeps a stack of require frames. The bottom frame holds the
// global behaviours; every module load pushes a frame carrying the behaviours
// scoped to that load only. A cube is offered to the global behaviours in
// registration order, then to the current frame's scoped behaviours, and the
// first behaviour that reports a match owns it.
//
// Scanning:
//   - A top-level dispatch starts at the first candidate
//   - A dispatch started from inside a behaviour's Allocate on the same frame
//     resumes after that behaviour, so a behaviour can hand a cube on to the
//     rest of the chain without being offered it again
//   - Nested module loads push their own frame; the parent's scan position is
//     untouched and restored when the nested dispatch returns
//
// Error handling:
//   - No candidate claims the cube → ErrDispatchCrashed
//   - A behaviour returns an error → wrapped and returned, scan stops
//
// Uninstall uses the owner index (cube unique key → behaviour) recorded at
// allocation, so cubes claimed by load-scoped behaviours can still be
// released after their frame is gone. Cubes without a recorded owner fall
// back to the same ordered scan.
package dispatch
