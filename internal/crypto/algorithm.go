// algorithm.go defines the JOSE algorithms accepted by the state-exchange envelope codec.
//
// Algorithm identifiers travel in the envelope headers, so the accepted set
// is an explicit allow-list checked before any key material is used -
// a header naming an unlisted algorithm is rejected outright rather than
// falling back to whatever the sender asked for.
package crypto

import "github.com/lestrrat-go/jwx/v3/jwa"

// allowedSignatureAlgorithms are the JWS algorithms accepted for the inner
// signed token. ES384 is what the platform signs with; RS256 is supported
// for tenants provisioned with RSA key pairs.
var allowedSignatureAlgorithms = map[string]jwa.SignatureAlgorithm{
	"ES384": jwa.ES384(),
	"RS256": jwa.RS256(),
}

// allowedKeyAlgorithms are the JWE key management algorithms accepted for
// the outer encrypted token.
var allowedKeyAlgorithms = map[string]jwa.KeyEncryptionAlgorithm{
	"ECDH-ES+A192KW": jwa.ECDH_ES_A192KW(),
	"RSA-OAEP-256":   jwa.RSA_OAEP_256(),
}

// allowedContentEncryption are the JWE content encryption algorithms
// accepted for the outer encrypted token.
var allowedContentEncryption = map[string]jwa.ContentEncryptionAlgorithm{
	"A192CBC-HS384": jwa.A192CBC_HS384(),
	"A256GCM":       jwa.A256GCM(),
}

// SignatureAlgorithm looks up a JWS algorithm identifier against the allow-list.
func SignatureAlgorithm(name string) (jwa.SignatureAlgorithm, bool) {
	alg, ok := allowedSignatureAlgorithms[name]
	return alg, ok
}

// KeyAlgorithm looks up a JWE key management algorithm identifier against the allow-list.
func KeyAlgorithm(name string) (jwa.KeyEncryptionAlgorithm, bool) {
	alg, ok := allowedKeyAlgorithms[name]
	return alg, ok
}

// ContentEncryptionAlgorithm looks up a JWE content encryption algorithm
// identifier against the allow-list.
func ContentEncryptionAlgorithm(name string) (jwa.ContentEncryptionAlgorithm, bool) {
	enc, ok := allowedContentEncryption[name]
	return enc, ok
}
