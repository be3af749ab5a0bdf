package umbradb

import "errors"

var (
	// ErrFileNotFound is returned by Open when the database file does not exist.
	ErrFileNotFound = errors.New("database file not found")

	// ErrCorruptData is returned when decoding hits an unrecognized tag or an
	// inconsistent length.
	ErrCorruptData = errors.New("corrupt data")

	// ErrTruncated is returned when decoding runs out of bytes.
	ErrTruncated = errors.New("truncated input")

	// ErrVersionMismatch is returned when the file carries an unsupported
	// format version.
	ErrVersionMismatch = errors.New("unsupported format version")

	// ErrTableExists is returned when creating a table whose name is taken.
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound is returned when the named table is absent.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrInvalidSchema is returned for duplicate column names or an unknown
	// primary-key column.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrKeyExists is returned when inserting a key that is already present.
	ErrKeyExists = errors.New("key already exists")

	// ErrKeyNotFound is returned when a key is not present.
	ErrKeyNotFound = errors.New("key not found")

	// ErrSchemaViolation is returned when a row does not match the table's
	// column list, or when a key disagrees with the primary-key value.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrTypeMismatch is returned when a value's type differs from the
	// declared column type.
	ErrTypeMismatch = errors.New("type mismatch")
)
