package operation

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v2"

	"github.com/tusknet/tusk/model/dag"
)

// InsertCertificate inserts a certificate keyed by its digest. Identical
// re-insertion is a no-op; differing data under the same digest returns
// storage.ErrDataMismatch.
func InsertCertificate(cert *dag.Certificate) func(*badger.Txn) error {
	return insertIfAbsent(makePrefix(codeCertificate, cert.ID()), cert)
}

// RetrieveCertificate retrieves a certificate by digest. Returns
// storage.ErrNotFound if it is not stored.
func RetrieveCertificate(certID dag.Digest, cert *dag.Certificate) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCertificate, certID), cert)
}

// RemoveCertificate removes a certificate by digest.
func RemoveCertificate(certID dag.Digest) func(*badger.Txn) error {
	return remove(makePrefix(codeCertificate, certID))
}

// IndexCertificateByRound indexes a certificate digest under its
// (round, author) slot. Exactly one certificate may ever occupy a slot;
// a differing occupant returns storage.ErrDataMismatch.
func IndexCertificateByRound(round dag.Round, author dag.Digest, certID dag.Digest) func(*badger.Txn) error {
	return insertIfAbsent(makePrefix(codeCertificateRound, round, author), certID)
}

// LookupCertificateByAuthorRound retrieves the digest occupying the given
// (round, author) slot.
func LookupCertificateByAuthorRound(round dag.Round, author dag.Digest, certID *dag.Digest) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCertificateRound, round, author), certID)
}

// RemoveCertificateIndex removes the round index entry of a certificate.
func RemoveCertificateIndex(round dag.Round, author dag.Digest) func(*badger.Txn) error {
	return remove(makePrefix(codeCertificateRound, round, author))
}

// LookupCertificatesByRound collects the digests of all certificates indexed
// under the given round, in canonical author order.
func LookupCertificatesByRound(round dag.Round, certIDs *dag.DigestList) func(*badger.Txn) error {
	*certIDs = (*certIDs)[:0]
	return traverse(makePrefix(codeCertificateRound, round), func() (createFunc, handleFunc) {
		var certID dag.Digest
		create := func() interface{} {
			return &certID
		}
		handle := func() error {
			*certIDs = append(*certIDs, certID)
			return nil
		}
		return create, handle
	})
}

// IndexedRounds collects all rounds currently holding certificate index
// entries, ascending and deduplicated.
func IndexedRounds(rounds *[]dag.Round) func(*badger.Txn) error {
	*rounds = (*rounds)[:0]
	return traverseKeys(makePrefix(codeCertificateRound), func(key []byte) error {
		round := dag.Round(binary.BigEndian.Uint64(key[1:9]))
		if n := len(*rounds); n == 0 || (*rounds)[n-1] != round {
			*rounds = append(*rounds, round)
		}
		return nil
	})
}
