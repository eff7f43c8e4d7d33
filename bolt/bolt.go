package bolt

import (
	"github.com/asdine/storm/v3"
	"github.com/go-errors/errors"
)

// DB represents a database
type DB struct {
	path    string
	stormDB *storm.DB
}

// NewDB returns new database
func NewDB(path string) *DB {
	return &DB{
		path: path,
	}
}

// Open opens new database connection and registers the indexes
func (db *DB) Open() error {
	if db.path == "" {
		return errors.New("path required")
	}

	stormDB, err := storm.Open(db.path)
	if err != nil {
		return err
	}

	for _, data := range []interface{}{&subscriberRecord{}, &tokenRecord{}} {
		if err := stormDB.Init(data); err != nil {
			_ = stormDB.Close()
			return errors.Errorf("failed to init bucket: %v", err)
		}
	}
	db.stormDB = stormDB

	return nil
}

// Close closes database connection
func (db *DB) Close() error {
	if db.stormDB != nil {
		return db.stormDB.Close()
	}

	return nil
}
