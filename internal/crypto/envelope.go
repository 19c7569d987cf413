// envelope.go implements the state-exchange security envelope codec.
//
// The wire format is a nested JOSE token:
//
//	wrap:   claims -> JSON -> JWS (sign, sender key) -> JWE (compress + encrypt, receiver key)
//	unwrap: JWE (decrypt, receiver key) -> JWS (verify, sender key) -> claims
//
// Both directions are stateless functions over (keys, claims), so the
// production verify path and test fixture construction exercise the same
// code. Algorithm identifiers read from envelope headers are checked
// against the allow-list in algorithm.go before any key is used.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// JWSHeader is the protected header of the inner signed token.
type JWSHeader struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Type      string `json:"typ,omitempty"`
}

// JWEHeader is the protected header of the outer encrypted token.
// ExtraFields absorbs per-algorithm parameters such as the ECDH-ES
// ephemeral public key (epk).
type JWEHeader struct {
	Algorithm   string `json:"alg"`
	Encryption  string `json:"enc"`
	KeyID       string `json:"kid"`
	ContentType string `json:"cty,omitempty"`
	Compression string `json:"zip,omitempty"`
}

// SignClaims serializes the claims and returns a JWS compact serialization
// signed with the sender's private key. The signing algorithm is determined
// by the key type (EC P-384 -> ES384, RSA -> RS256) and the key's kid is
// embedded in the protected header.
func SignClaims(claims *Claims, signingKey jwk.Key) (string, error) {
	if claims == nil {
		return "", NewConstructionError("claims are required")
	}

	alg, err := signatureAlgorithmForKey(signingKey)
	if err != nil {
		return "", err
	}

	kid, ok := signingKey.KeyID()
	if !ok || kid == "" {
		return "", NewConstructionError("signing key has no kid")
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", WrapConstructionError(err, "failed to serialize claims")
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set("kid", kid); err != nil {
		return "", WrapConstructionError(err, "failed to set kid header")
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg, signingKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", WrapConstructionError(err, "failed to sign claims")
	}

	return string(signed), nil
}

// EncryptEnvelope encrypts a signed token with the receiver's public key and
// returns the outer JWE compact serialization. The plaintext is DEFLATE
// compressed before encryption and the receiver key's kid travels in the
// protected header along with cty: JWT.
func EncryptEnvelope(signedToken string, encryptionKey jwk.Key) (string, error) {
	if signedToken == "" {
		return "", NewConstructionError("signed token is required")
	}

	keyAlg, contentEnc, err := encryptionAlgorithmsForKey(encryptionKey)
	if err != nil {
		return "", err
	}

	kid, ok := encryptionKey.KeyID()
	if !ok || kid == "" {
		return "", NewConstructionError("encryption key has no kid")
	}

	hdrs := jwe.NewHeaders()
	if err := hdrs.Set("kid", kid); err != nil {
		return "", WrapConstructionError(err, "failed to set kid header")
	}
	if err := hdrs.Set("cty", "JWT"); err != nil {
		return "", WrapConstructionError(err, "failed to set cty header")
	}

	encrypted, err := jwe.Encrypt([]byte(signedToken),
		jwe.WithKey(keyAlg, encryptionKey),
		jwe.WithContentEncryption(contentEnc),
		jwe.WithCompress(jwa.Deflate()),
		jwe.WithProtectedHeaders(hdrs),
	)
	if err != nil {
		return "", WrapConstructionError(err, "failed to encrypt signed token")
	}

	return string(encrypted), nil
}

// WrapState builds a complete state envelope: sign with the sender's private
// key, then encrypt the compact JWS with the receiver's public key. Any
// failure in either stage aborts the whole operation - there is no partial
// envelope.
func WrapState(claims *Claims, signingKey, encryptionKey jwk.Key) (string, error) {
	signed, err := SignClaims(claims, signingKey)
	if err != nil {
		return "", err
	}
	return EncryptEnvelope(signed, encryptionKey)
}

// DecryptEnvelope decrypts the outer JWE layer with the receiver's private
// key and returns the enclosed signed token. The header's algorithm
// identifiers are validated against the allow-list before decryption.
func DecryptEnvelope(token string, decryptionKey jwk.Key) ([]byte, error) {
	header, err := ParseJWEHeader(token)
	if err != nil {
		return nil, err
	}

	keyAlg, ok := KeyAlgorithm(header.Algorithm)
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unsupported key management algorithm: %q", header.Algorithm))
	}

	if _, ok := ContentEncryptionAlgorithm(header.Encryption); !ok {
		return nil, NewValidationError(fmt.Sprintf("unsupported content encryption algorithm: %q", header.Encryption))
	}

	plaintext, err := jwe.Decrypt([]byte(token), jwe.WithKey(keyAlg, decryptionKey))
	if err != nil {
		return nil, WrapValidationError(err, "failed to decrypt envelope")
	}

	return plaintext, nil
}

// VerifySignedClaims verifies the inner JWS with the sender's public key and
// returns the claim set. The header's algorithm identifier is validated
// against the allow-list before verification.
func VerifySignedClaims(signedToken []byte, verificationKey jwk.Key) (*Claims, error) {
	header, err := ParseJWSHeader(string(signedToken))
	if err != nil {
		return nil, err
	}

	alg, ok := SignatureAlgorithm(header.Algorithm)
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unsupported signature algorithm: %q", header.Algorithm))
	}

	payload, err := jws.Verify(signedToken, jws.WithKey(alg, verificationKey))
	if err != nil {
		return nil, WrapSignatureError(err, "failed to verify signed token")
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, WrapValidationError(err, "failed to parse claims")
	}

	return &claims, nil
}

// ParseJWSHeader extracts the protected header from a JWS compact
// serialization without verifying the signature.
func ParseJWSHeader(token string) (JWSHeader, error) {

	// the structure of the jws is Base64URL(Header).Base64URL(Payload).Base64URL(Signature)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return JWSHeader{}, NewValidationError("invalid JWS format")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return JWSHeader{}, WrapValidationError(err, "error decoding the JWS header")
	}

	var header JWSHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return JWSHeader{}, WrapValidationError(err, "could not unmarshal JWS header")
	}

	if header.Algorithm == "" {
		return JWSHeader{}, NewValidationError("missing required JWS header field: alg")
	}
	if header.KeyID == "" {
		return JWSHeader{}, NewValidationError("missing required JWS header field: kid")
	}

	return header, nil
}

// ParseJWEHeader extracts the protected header from a JWE compact
// serialization without decrypting it.
func ParseJWEHeader(token string) (JWEHeader, error) {

	// the structure of the jwe is Base64URL(Header).Base64URL(EncryptedKey).Base64URL(IV).Base64URL(Ciphertext).Base64URL(Tag)
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return JWEHeader{}, NewValidationError("invalid JWE format")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return JWEHeader{}, WrapValidationError(err, "error decoding the JWE header")
	}

	var header JWEHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return JWEHeader{}, WrapValidationError(err, "could not unmarshal JWE header")
	}

	if header.Algorithm == "" {
		return JWEHeader{}, NewValidationError("missing required JWE header field: alg")
	}
	if header.Encryption == "" {
		return JWEHeader{}, NewValidationError("missing required JWE header field: enc")
	}
	if header.KeyID == "" {
		return JWEHeader{}, NewValidationError("missing required JWE header field: kid")
	}

	return header, nil
}

// signatureAlgorithmForKey maps a private signing key to its JWS algorithm.
func signatureAlgorithmForKey(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	if key == nil {
		return jwa.SignatureAlgorithm{}, NewKeyError("signing key is nil")
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return jwa.SignatureAlgorithm{}, WrapKeyError(err, "failed to export signing key")
	}

	switch k := raw.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P384() {
			return jwa.SignatureAlgorithm{}, NewKeyError(fmt.Sprintf("unsupported EC curve for signing: %s", k.Curve.Params().Name))
		}
		return jwa.ES384(), nil
	case *rsa.PrivateKey:
		return jwa.RS256(), nil
	default:
		return jwa.SignatureAlgorithm{}, NewKeyError(fmt.Sprintf("unsupported signing key type: %T", raw))
	}
}

// encryptionAlgorithmsForKey maps a receiver key to its JWE key management
// and content encryption algorithms. Accepts both public keys (wrap) and
// private keys (so a full key pair can be used to construct test envelopes).
func encryptionAlgorithmsForKey(key jwk.Key) (jwa.KeyEncryptionAlgorithm, jwa.ContentEncryptionAlgorithm, error) {
	if key == nil {
		return jwa.KeyEncryptionAlgorithm{}, jwa.ContentEncryptionAlgorithm{}, NewKeyError("encryption key is nil")
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return jwa.KeyEncryptionAlgorithm{}, jwa.ContentEncryptionAlgorithm{}, WrapKeyError(err, "failed to export encryption key")
	}

	switch k := raw.(type) {
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P384() {
			return jwa.KeyEncryptionAlgorithm{}, jwa.ContentEncryptionAlgorithm{}, NewKeyError(fmt.Sprintf("unsupported EC curve for encryption: %s", k.Curve.Params().Name))
		}
		return jwa.ECDH_ES_A192KW(), jwa.A192CBC_HS384(), nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P384() {
			return jwa.KeyEncryptionAlgorithm{}, jwa.ContentEncryptionAlgorithm{}, NewKeyError(fmt.Sprintf("unsupported EC curve for encryption: %s", k.Curve.Params().Name))
		}
		return jwa.ECDH_ES_A192KW(), jwa.A192CBC_HS384(), nil
	case *rsa.PublicKey, *rsa.PrivateKey:
		return jwa.RSA_OAEP_256(), jwa.A256GCM(), nil
	default:
		return jwa.KeyEncryptionAlgorithm{}, jwa.ContentEncryptionAlgorithm{}, NewKeyError(fmt.Sprintf("unsupported encryption key type: %T", raw))
	}
}
