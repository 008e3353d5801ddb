package operation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/tusknet/tusk/storage"
)

// insert will encode the given entity and insert the resulting binary data
// in the badger DB under the provided key. It will error with
// storage.ErrAlreadyExists if the key already exists.
func insert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := encodeEntity(entity)
		if err != nil {
			return err
		}

		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}

		return nil
	}
}

// insertIfAbsent inserts the entity under the key. If the key already holds
// byte-identical data, it is a no-op; if it holds different data, it errors
// with storage.ErrDataMismatch. This is the write primitive that keeps
// certificate slots append-only and idempotent.
func insertIfAbsent(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		val, err := encodeEntity(entity)
		if err != nil {
			return err
		}

		item, err := tx.Get(key)
		if err == nil {
			return item.Value(func(existing []byte) error {
				if !bytes.Equal(existing, val) {
					return storage.ErrDataMismatch
				}
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}

		return nil
	}
}

// upsert encodes the entity and sets it under the key, regardless of whether
// the key already exists.
func upsert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		val, err := encodeEntity(entity)
		if err != nil {
			return err
		}

		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}

		return nil
	}
}

// remove removes the entity with the given key, if it exists. If it does not
// exist, this is a no-op.
func remove(key []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := tx.Delete(key)
		if err != nil {
			return fmt.Errorf("could not delete key: %w", err)
		}
		return nil
	}
}

// retrieve will retrieve the binary data under the given key from the badger
// DB and decode it into the given entity. The provided entity needs to be a
// pointer to an initialized entity of the correct type. It errors with
// storage.ErrNotFound if the key does not exist.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		err = item.Value(func(val []byte) error {
			return decodeValue(val, entity)
		})
		if err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}

		return nil
	}
}

// handleFunc is called for each key-value pair during a traversal, after the
// value was decoded into the entity returned by the paired createFunc.
type handleFunc func() error

// createFunc returns a pointer to an initialized entity to decode the next
// value into during a traversal.
type createFunc func() interface{}

// iterationFunc is called once per traversal step to initialize the decode
// target and the processing of the resulting entity.
type iterationFunc func() (createFunc, handleFunc)

// traverse iterates over all keys sharing the given prefix, in ascending key
// order, decoding each value and handing it to the iteration function.
func traverse(prefix []byte, iteration iterationFunc) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if len(prefix) == 0 {
			return fmt.Errorf("prefix must not be empty")
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {

			create, handle := iteration()

			err := it.Item().Value(func(val []byte) error {
				entity := create()
				err := decodeValue(val, entity)
				if err != nil {
					return err
				}
				return handle()
			})
			if err != nil {
				return fmt.Errorf("could not process value: %w", err)
			}
		}

		return nil
	}
}

// traverseKeys iterates over all keys sharing the given prefix without
// loading values. Useful when the data needed is fully contained in the key.
func traverseKeys(prefix []byte, handleKey func(key []byte) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if len(prefix) == 0 {
			return fmt.Errorf("prefix must not be empty")
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := handleKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
		}

		return nil
	}
}
