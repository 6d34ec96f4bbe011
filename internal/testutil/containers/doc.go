// Package containers starts throwaway brokers for integration tests with
// testcontainers-go.
//
// Tests using it carry the "integration" build tag and need a Docker
// daemon:
//
//	go test -tags=integration ./internal/mqtt/...
package containers
