// Package orchestrate fans analysis tasks out over backend subprocesses
// and aggregates their results into a run manifest.
//
// One task exists per (mode, backend) pair. Tasks run concurrently and
// independently: a per-task timeout kills only that task's process, and a
// task failure never blocks or fails its siblings. Each task owns its own
// output files inside the run directory, so completion order does not
// matter and no write-side locking is needed. The manifest is keyed by
// task identity and finalized only after every task reaches a terminal
// state.
package orchestrate
