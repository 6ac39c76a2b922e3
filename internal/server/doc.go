// Package server exposes the HTTP surface: the OAuth login/callback
// endpoints for both accounts, health probes, and Prometheus metrics.
package server
