// Package batch partitions work into sequential batches and runs the items of
// each batch concurrently.
//
// Batches bound peak resource usage: only one batch is in flight at a time, and
// every item of that batch reaches a terminal state before the next batch
// starts. Key features:
//   - Configurable batch sizing (fraction of the workload, CPU count, or fixed)
//   - Order-preserving [start, end) boundaries that always sum to the total
//   - Per-batch structured task groups (errgroup) joined before moving on
//   - Progress tracking with callbacks for UI updates
//   - Context-aware cancellation between batches
//
// An item failure is counted but never cancels sibling items or later batches.
package batch
