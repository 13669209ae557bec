package stencil

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// encMode is canonical so equal tables always encode to equal bytes and
// the fingerprint is stable.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("stencil: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode serializes a table to CBOR.
func Encode(t *Table) ([]byte, error) {
	data, err := encMode.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "encode stencil table")
	}
	return data, nil
}

// Decode deserializes a table and checks that it is well formed and that
// its version matches its content.
func Decode(data []byte) (*Table, error) {
	var t Table
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode stencil table")
	}
	if err := t.Validate(); err != nil {
		return nil, errors.Wrap(err, "decoded stencil table is invalid")
	}
	v, err := t.Fingerprint()
	if err != nil {
		return nil, err
	}
	if v != t.Version {
		return nil, errors.Newf("stencil table version %q does not match content %q", t.Version, v)
	}
	return &t, nil
}
