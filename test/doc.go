// Package test provides infrastructure and utilities for integration
// testing the lifecycle manager.
//
// The test package implements a complete test environment that allows
// testing the interaction between the API server, its client and the
// lifecycle engine while keeping the cloud backends mocked.
//
// The package provides:
//
//   - Suite: a struct that manages a complete test setup including a
//     file-based database, a real API server and client, and a mocked
//     cloud backend gateway
//
//   - Test Utilities: helper functions for common scenarios such as
//     seeding instances in a given status and polling for a condition
//
// Example usage:
//
//	func TestExample(t *testing.T) {
//	    suite := test.NewSuite(t)
//	    defer suite.Cleanup()
//
//	    // Use suite.APIClient to make requests
//	    // Use suite.Gateway to inspect or fail backend stop calls
//	}
package test
