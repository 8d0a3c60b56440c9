package storage

// NewJSONRepository opens the snapshot-file datastore and returns it as a
// Repository. It is the default driver for development and the test double
// for the Postgres repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}
