// Package e2e drives a complete agent daemon on the fake adapter over
// its unix socket. The tests run with the e2e build tag:
//
//	go test -tags e2e ./e2e/
package e2e
