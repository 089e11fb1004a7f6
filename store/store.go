// Package store provides reference implementations of the narrow
// read/write interfaces finmodel's providers and orchestrator consult
// (spec §3, §6): driver inputs, prior-period/closing state, opening
// balance sheets, and FX rates. The core engine never imports this
// package directly — callers wire a store's methods into finmodel's
// provider constructors.
//
// BoltStore (bbolt_store.go) is the embedded reference implementation;
// PostgresDriverStore (postgres_store.go) is an alternative for driver
// inputs sourced from a relational database.
package store
