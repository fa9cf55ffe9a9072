// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the shared upstream plumbing (HTTP client and named uplink registry).
// NewApp installs recovery, request ids, access logging and request metrics,
// then hands every non-diagnostics path to the package read handler. The
// maintenance and diagnostics routes under /-/ are attached by the routes
// package, so keep exports narrow and accept explicit dependencies.
package server
