package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/storage"
	"github.com/tusknet/tusk/storage/badger/operation"
)

// Certificates implements the persistent certificate store on badger. All
// writes go through atomic transactions, so a crash never leaves a
// certificate without its round index or vice versa.
type Certificates struct {
	db *badger.DB
}

var _ storage.Certificates = (*Certificates)(nil)

func NewCertificates(db *badger.DB) *Certificates {
	return &Certificates{db: db}
}

// Store persists the certificate and its round index atomically. Storing the
// same certificate twice is a no-op. A different certificate occupying the
// same (author, round) slot returns storage.ErrDataMismatch.
func (c *Certificates) Store(cert *dag.Certificate) error {
	certID := cert.ID()
	err := c.db.Update(func(tx *badger.Txn) error {
		err := operation.InsertCertificate(cert)(tx)
		if err != nil {
			return fmt.Errorf("could not insert certificate: %w", err)
		}
		err = operation.IndexCertificateByRound(cert.Round(), cert.Author(), certID)(tx)
		if err != nil {
			return fmt.Errorf("could not index certificate: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrDataMismatch) {
		return fmt.Errorf("could not store certificate %v: %w", certID, err)
	}
	return err
}

// ByID retrieves the certificate with the given digest.
func (c *Certificates) ByID(certID dag.Digest) (*dag.Certificate, error) {
	var cert dag.Certificate
	err := c.db.View(operation.RetrieveCertificate(certID, &cert))
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// ByRound retrieves all stored certificates of the given round, in canonical
// author order.
func (c *Certificates) ByRound(round dag.Round) ([]*dag.Certificate, error) {
	var certs []*dag.Certificate
	err := c.db.View(func(tx *badger.Txn) error {
		var certIDs dag.DigestList
		err := operation.LookupCertificatesByRound(round, &certIDs)(tx)
		if err != nil {
			return fmt.Errorf("could not look up round index: %w", err)
		}
		for _, certID := range certIDs {
			var cert dag.Certificate
			err = operation.RetrieveCertificate(certID, &cert)(tx)
			if err != nil {
				return fmt.Errorf("could not retrieve certificate %v: %w", certID, err)
			}
			certs = append(certs, &cert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return certs, nil
}

// ByAuthorRound retrieves the certificate occupying the given (author,
// round) slot.
func (c *Certificates) ByAuthorRound(author dag.Digest, round dag.Round) (*dag.Certificate, error) {
	var cert dag.Certificate
	err := c.db.View(func(tx *badger.Txn) error {
		var certID dag.Digest
		err := operation.LookupCertificateByAuthorRound(round, author, &certID)(tx)
		if err != nil {
			return err
		}
		return operation.RetrieveCertificate(certID, &cert)(tx)
	})
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// Rounds returns the rounds currently holding certificates, ascending.
func (c *Certificates) Rounds() ([]dag.Round, error) {
	var rounds []dag.Round
	err := c.db.View(operation.IndexedRounds(&rounds))
	if err != nil {
		return nil, fmt.Errorf("could not scan rounds: %w", err)
	}
	return rounds, nil
}

// PruneBelow removes all certificates with round strictly lower than the
// given round, together with their index entries.
func (c *Certificates) PruneBelow(round dag.Round) error {
	rounds, err := c.Rounds()
	if err != nil {
		return err
	}
	for _, r := range rounds {
		if r >= round {
			break
		}
		certs, err := c.ByRound(r)
		if err != nil {
			return fmt.Errorf("could not load round %d for pruning: %w", r, err)
		}
		err = c.db.Update(func(tx *badger.Txn) error {
			for _, cert := range certs {
				err := operation.RemoveCertificate(cert.ID())(tx)
				if err != nil {
					return err
				}
				err = operation.RemoveCertificateIndex(cert.Round(), cert.Author())(tx)
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("could not prune round %d: %w", r, err)
		}
	}
	return nil
}
