// Package sinks implements progress.RenderSink targets and decorators: a chat
// webhook, structured logging, Prometheus and tracing instrumentation, run
// snapshot persistence, and fallback notification through a publisher.
package sinks
