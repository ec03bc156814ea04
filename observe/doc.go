// Package observe provides the observability sink shared by the cache,
// resilience and fetch packages.
//
// Components never reach for a global logger. They accept a Logger (and
// optionally an OpenTelemetry meter or tracer) as configuration, so the same
// event timeline can be routed to stderr, a dated log file, or discarded in
// tests. NewObserver wires tracer and meter providers with one of the
// supported exporters.
package observe
