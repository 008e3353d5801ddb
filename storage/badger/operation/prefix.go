package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/tusknet/tusk/model/dag"
)

const (
	// codes for entity storage
	codeCertificate = 1 // certificate digest -> certificate

	// codes for indices
	codeCertificateRound = 10 // round + author -> certificate digest

	// codes for consensus progress
	codeCommittedRound = 20 // -> last committed leader round
	codeSequenceLength = 21 // -> number of commit sequence entries
	codeSubDag         = 22 // sequence index -> sub-dag record
	codeExecutedIndex  = 23 // -> last executed sequence index
)

func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := make([]byte, 1)
	prefix[0] = code
	for _, key := range keys {
		prefix = append(prefix, keyPartToBinary(key)...)
	}
	return prefix
}

func keyPartToBinary(v interface{}) []byte {
	switch i := v.(type) {
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, i)
		return b
	case dag.Round:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(i))
		return b
	case dag.Digest:
		return i[:]
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}
