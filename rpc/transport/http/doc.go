// Package http implements the HTTP ops endpoint of a node. It is not
// part of the node-to-node plane, it serves the Prometheus metrics
// exposition and a liveness probe for scrapers and orchestrators.
//
// The package focuses on:
//   - Rendering all registered metrics in Prometheus text format,
//     including the process-level gauges
//   - A /healthz liveness probe
//   - Request logging at debug level
//
// The endpoint is only started when ServerConfig.MetricsEndpoint is
// set, nodes without it carry no HTTP surface at all.
package http
