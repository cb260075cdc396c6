// Package domain contains the core domain entities and value objects for caseship.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (SQLite, file system, logging) and
// contains only pure business logic.
//
// # Entities
//
//   - [Operation]: A single buffered mutation (kind, target, payload, sequence number)
//   - [Case]: A repair case record
//   - [Connectivity]: Process-wide reachability flag for the shared store
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Focused on business rules and invariants
//   - Testable without mocks or external systems
package domain
