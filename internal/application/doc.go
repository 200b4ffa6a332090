// Package application provides application initialization and dependency wiring.
// It builds the config store, resolver, sync loop, flow controller, metrics,
// handlers and HTTP server, keeping the main package focused on CLI parsing
// and orchestration.
package application
