// Package server assembles the HTTP front-end of the analytics MCP server:
// the OAuth 2.1 proxy endpoints, the bearer-guarded MCP mount, health
// probes, static pages and the dedicated Prometheus metrics listener.
//
// # Key Components
//
// ServerContext owns the shared dependencies of a running server (storage
// provider, rate-limiter registry, client-IP extractor, analytics client,
// instrumentation) and the context their background tasks run under.
//
// OAuthHTTPServer is the assembled front-end. Requests traverse, outermost
// first: body-size guard, global rate limiter, bearer validator, session
// middleware, router. The registration and token endpoints carry additional
// per-route rate buckets.
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed for
// container orchestration probes; MetricsServer exposes /metrics on its own
// listener so operational metrics stay off the public surface.
package server
