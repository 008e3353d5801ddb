package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned when a retrieved key does not exist in the
	// database. Note: there is another not found error, badger.ErrKeyNotFound,
	// which is returned by the raw badger API; modules in storage/badger and
	// storage/badger/operation convert it to ErrNotFound.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned when an insert-if-absent write hits an
	// existing key.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrDataMismatch is returned when an insert-if-absent write hits an
	// existing key holding different data. For certificate slots this is
	// evidence of equivocation reaching quorum.
	ErrDataMismatch = errors.New("data for key is different")
)
