// Package observability wires the bridge's logging, metrics and tracing.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts credentials (Slack
// bot and app tokens, Google API keys, bearer tokens) from messages and
// attribute values before they reach the output. Turn and thread identifiers
// stored on the context with WithTurn are attached to every record.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.WithTurn(ctx, turnID, threadTS)
//	logger.InfoContext(ctx, "mention received", "channel", channelID)
//
// # Metrics
//
// Metrics are Prometheus collectors registered on the registerer passed to
// NewMetrics. Every recording method is safe to call on a nil *Metrics, so
// components can treat metrics as optional.
//
// # Tracing
//
// NewTracer installs a global OpenTelemetry tracer provider exporting over
// OTLP/gRPC when an endpoint is configured. Components receive the *Tracer in
// their Config and start spans through it; a nil or endpoint-less Tracer
// yields no-op spans.
package observability
