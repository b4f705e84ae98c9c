// Package discovery advertises and browses iiod instances over mDNS/DNS-SD.
//
// iiod registers one "_iio._tcp" service in the "local" domain, with the
// instance name "iiod on <hostname>" and the daemon's TCP port. Clients
// that are given a network URI without a host browse for that service
// and connect to the first instance that answers.
//
// Addresses reported by several interfaces for the same instance are
// aggregated into a single Service.
package discovery
