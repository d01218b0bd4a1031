// Package integration provides integration tests for the contact directory server.
// These tests boot the complete application against a file source or a fake
// paginated provider API and drive it over HTTP.
package integration
