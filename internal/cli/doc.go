// Package cli wires together the Cobra command tree for the facet binary.
//
// It defines the root command and all subcommands (run, config, backends,
// version), binds flags, reads configuration, drives the diff/dispatch
// pipeline, and returns deterministic exit codes for CI gating.
package cli
