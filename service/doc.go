// Package service drives the registration lifecycle of one relayer
// against a fee market registry: enroll, reposition, remove and collateral
// adjustment, serialized by a single-flight guard.
//
// It ties the pure domain packages (orderbook, collateral, validation) to a
// chain.Gateway, and records every submission in the journal so that a
// restarted process can resume waiting on it. Transports such as gRPC and
// the CLI sit on top of it.
package service
