// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [OperationStore]: Applies operations to the shared store
//   - [QueueRepository]: Persists the durable local queue of pending operations
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement these interfaces
// with concrete implementations (SQLite, file system, zerolog).
//
// This separation enables:
//   - Testing application logic with fake implementations
//   - Swapping infrastructure without changing business logic
//   - Clear boundaries and dependency direction
package ports
