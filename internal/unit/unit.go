package unit

// Unit is the lifecycle contract every service unit implements. Start runs
// on the context the instance was scheduled to; Stop is later pinned to that
// same context. Neither carries a deadline: a slow unit delays only its own
// deployment's completion signal.
type Unit interface {
	// Start brings the instance up. An error is a launch failure.
	Start() error

	// Stop brings the instance down. An error is logged by the caller and
	// never interrupts the rest of the teardown.
	Stop() error
}

// FactoryInfo describes a registered factory.
type FactoryInfo struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// Factory constructs service-unit instances of one kind.
type Factory interface {
	// Construct builds a fresh, not yet started instance from a module
	// reference and the ordered resource scope. Errors are construction
	// faults: a bad reference, a missing module, a failed load.
	Construct(moduleRef string, scope []string) (Unit, error)

	// Info reports the factory's kind tag and a human-readable description.
	Info() FactoryInfo
}
