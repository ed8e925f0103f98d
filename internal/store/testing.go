package store

// OpenMemory creates a Store backed by a private in-memory database.
// This is only intended for use in tests.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}
