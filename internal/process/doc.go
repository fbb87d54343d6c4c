// Package process defines process definitions (name, business id, duration
// forecast, pluggable engine), the registry that resolves them, and the
// execution-context contract handed to an engine for one run. The
// orchestrator depends only on the Engine interface, never on concrete
// engine types.
package process
