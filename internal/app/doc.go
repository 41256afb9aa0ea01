// Package app loads configuration and wires application dependencies for
// the CLIs.
//
// It builds the logger, metrics registry, store backend, stores, ratchet
// engine and high-level services from a Config, exposing them via the App
// struct for commands to use.
package app
