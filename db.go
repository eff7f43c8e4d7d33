package optin

// Database is a store backend that has to be opened before use.
type Database interface {
	Open() error
	Close() error
}
