// Package execution orchestrates asynchronous process runs: it turns a
// request over a persisted batch into a tracked, time-bounded execution,
// dispatches the process's engine with a prepared context, serializes step
// appends, and sweeps for executions past their deadline.
package execution
