// Package http is the HTTP entry point of access-gate.
//
// It assembles one listener that serves:
//
//	/admin/...  - admin API (policy CRUD, decisions, audit), see package admin
//	GET /health - store reachability and audit pipeline depth
//	GET /metrics - Prometheus metrics
//
// Every response carries an X-Request-ID header. Metrics are labelled with
// the matched route pattern rather than the raw path.
package http
