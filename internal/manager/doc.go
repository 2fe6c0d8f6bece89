// Package manager is the deployment orchestrator: it owns per-user deployment
// records, drives model loads through a runtime, gates inference behind
// status and API-key checks, and aggregates status. Files by concern:
//
//   - manager.go: Manager type, Deploy/Get/List/Stop/Delete/Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: Status, Deployment, Stats and the state machine edges.
//   - registry.go: per-user slots with per-key locking and record epochs.
//   - handle.go: reference-counted wrapper around a loaded runtime model.
//   - orchestrator.go: single-flight, bounded, timed background loads.
//   - auth.go: API key generation and constant-time validation.
//   - router.go: chat completion and model listing for tenant endpoints.
//   - prompt.go: prompt formatting, output post-processing, stop sequences.
//   - status_report.go: aggregate status and the deployments collector.
//   - errors.go: error types and helpers (IsNotFound, IsNotReady, IsUnauthorized, ...).
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus counters for loads and generations.
//
// Lock order: a registry slot lock is never held while calling into the
// runtime or while waiting on a Handle.
package manager
