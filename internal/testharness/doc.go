// Package testharness provides fixtures for tests that need a running
// daemon or an in-memory peer: a daemon serving the simulated backend on
// loopback, connected stream pairs and a scripted text-protocol peer.
package testharness
