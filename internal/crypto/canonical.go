// state content is compared using RFC 8785 canonical JSON so that two
// semantically equal documents match regardless of whitespace or key order
// (the relational backends are free to normalize JSON formatting on storage).
// this implementation uses the gowebpki/jcs library to perform the canonicalization
package crypto

import (
	"bytes"

	"github.com/gowebpki/jcs"
)

// CanonicalizeJSON converts JSON to canonical form per RFC 8785.
//
// If the input is not valid JSON, an error is returned (handled by jcs library).
func CanonicalizeJSON(jsonData []byte) ([]byte, error) {
	return jcs.Transform(jsonData)
}

// JSONEqual reports whether two JSON documents are semantically equal,
// comparing their RFC 8785 canonical forms.
func JSONEqual(a, b []byte) (bool, error) {
	ca, err := jcs.Transform(a)
	if err != nil {
		return false, err
	}
	cb, err := jcs.Transform(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
