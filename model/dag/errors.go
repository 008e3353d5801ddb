package dag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownSigner    = errors.New("signer is not a committee member")
)

// ConfigurationError indicates that a component was initialized with invalid
// or inconsistent parameters. It is fatal at startup.
type ConfigurationError struct {
	err error
}

func NewConfigurationErrorf(msg string, args ...interface{}) error {
	return ConfigurationError{fmt.Errorf(msg, args...)}
}

func (e ConfigurationError) Error() string { return e.err.Error() }
func (e ConfigurationError) Unwrap() error { return e.err }

// IsConfigurationError returns whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var e ConfigurationError
	return errors.As(err, &e)
}

// InvalidHeaderError indicates that the header with the given ID failed
// structural or protocol validation and must not be voted for.
type InvalidHeaderError struct {
	HeaderID Digest
	Round    Round
	Err      error
}

func NewInvalidHeaderErrorf(header *Header, msg string, args ...interface{}) error {
	return InvalidHeaderError{
		HeaderID: header.ID(),
		Round:    header.Round,
		Err:      fmt.Errorf(msg, args...),
	}
}

func (e InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid header %v at round %d: %s", e.HeaderID, e.Round, e.Err.Error())
}

func (e InvalidHeaderError) Unwrap() error { return e.Err }

// IsInvalidHeaderError returns whether err is an InvalidHeaderError.
func IsInvalidHeaderError(err error) bool {
	var e InvalidHeaderError
	return errors.As(err, &e)
}

// InvalidVoteError indicates that a vote failed validation and must be
// dropped without affecting aggregation state.
type InvalidVoteError struct {
	VoteID Digest
	Round  Round
	Err    error
}

func NewInvalidVoteErrorf(vote *Vote, msg string, args ...interface{}) error {
	return InvalidVoteError{
		VoteID: vote.ID(),
		Round:  vote.Round,
		Err:    fmt.Errorf(msg, args...),
	}
}

func (e InvalidVoteError) Error() string {
	return fmt.Sprintf("invalid vote %v for round %d: %s", e.VoteID, e.Round, e.Err.Error())
}

func (e InvalidVoteError) Unwrap() error { return e.Err }

// IsInvalidVoteError returns whether err is an InvalidVoteError.
func IsInvalidVoteError(err error) bool {
	var e InvalidVoteError
	return errors.As(err, &e)
}

// InvalidCertificateError indicates that a certificate failed validation:
// malformed parent set, insufficient vote quorum or bad signatures.
type InvalidCertificateError struct {
	CertID Digest
	Round  Round
	Err    error
}

func NewInvalidCertificateErrorf(cert *Certificate, msg string, args ...interface{}) error {
	return InvalidCertificateError{
		CertID: cert.ID(),
		Round:  cert.Round(),
		Err:    fmt.Errorf(msg, args...),
	}
}

func (e InvalidCertificateError) Error() string {
	return fmt.Sprintf("invalid certificate %v at round %d: %s", e.CertID, e.Round, e.Err.Error())
}

func (e InvalidCertificateError) Unwrap() error { return e.Err }

// IsInvalidCertificateError returns whether err is an InvalidCertificateError.
func IsInvalidCertificateError(err error) bool {
	var e InvalidCertificateError
	return errors.As(err, &e)
}

// DoubleProposalError indicates equivocation: the same author proposed two
// differing headers for the same round. It carries both headers as evidence.
type DoubleProposalError struct {
	FirstHeader       *Header
	ConflictingHeader *Header
	err               error
}

func NewDoubleProposalErrorf(first, conflicting *Header, msg string, args ...interface{}) error {
	return DoubleProposalError{
		FirstHeader:       first,
		ConflictingHeader: conflicting,
		err:               fmt.Errorf(msg, args...),
	}
}

func (e DoubleProposalError) Error() string { return e.err.Error() }
func (e DoubleProposalError) Unwrap() error { return e.err }

// IsDoubleProposalError returns whether err is a DoubleProposalError.
func IsDoubleProposalError(err error) bool {
	var e DoubleProposalError
	return errors.As(err, &e)
}

// DoubleVoteError indicates that a voter cast two semantically different
// votes for the same round of the same header author.
type DoubleVoteError struct {
	FirstVote       *Vote
	ConflictingVote *Vote
	err             error
}

func NewDoubleVoteErrorf(first, conflicting *Vote, msg string, args ...interface{}) error {
	return DoubleVoteError{
		FirstVote:       first,
		ConflictingVote: conflicting,
		err:             fmt.Errorf(msg, args...),
	}
}

func (e DoubleVoteError) Error() string { return e.err.Error() }
func (e DoubleVoteError) Unwrap() error { return e.err }

// IsDoubleVoteError returns whether err is a DoubleVoteError.
func IsDoubleVoteError(err error) bool {
	var e DoubleVoteError
	return errors.As(err, &e)
}

// MissingParentsError indicates that a header or certificate references
// parent certificates not yet present locally. It is recoverable: the
// synchronizer fetches the missing ancestors from peers.
type MissingParentsError struct {
	HeaderID Digest
	Round    Round
	Missing  DigestList
}

func (e MissingParentsError) Error() string {
	return fmt.Sprintf("header %v at round %d references %d unknown parents", e.HeaderID, e.Round, len(e.Missing))
}

// IsMissingParentsError returns whether err is a MissingParentsError.
func IsMissingParentsError(err error) bool {
	var e MissingParentsError
	return errors.As(err, &e)
}

// AsMissingParentsError determines whether the given error is a
// MissingParentsError (potentially wrapped), with checked-cast semantics.
func AsMissingParentsError(err error) (*MissingParentsError, bool) {
	var e MissingParentsError
	if errors.As(err, &e) {
		return &e, true
	}
	return nil, false
}
