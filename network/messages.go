package network

import (
	"github.com/tusknet/tusk/model/dag"
)

// CertificateRequest asks a peer for certificates by digest. Peers answer
// with the subset they hold; missing digests are simply absent from the
// response.
type CertificateRequest struct {
	CertIDs dag.DigestList
}

// CertificateResponse carries the certificates a peer held for a request.
type CertificateResponse struct {
	Certificates []*dag.Certificate
}
