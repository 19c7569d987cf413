// this file contains functions to generate, save and load the asymmetric key
// pairs used by the state exchange.
//
// Two key types are supported:
//   - EC P-384: ES384 signatures / ECDH-ES+A192KW key wrap (the default)
//   - RSA: RS256 signatures / RSA-OAEP-256 key wrap
//
// keys are saved in JWK format with the kid set; the keymanager indexes
// keys by kid when loading them from the configured directories.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// GenerateECP384KeyPair generates a new EC P-384 private key.
func GenerateECP384KeyPair() (*ecdsa.PrivateKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, WrapKeyError(err, "failed to generate EC key pair")
	}
	return privateKey, nil
}

// GenerateRSAKeyPair generates a new RSA private key of the given size.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits != 2048 && bits != 4096 {
		return nil, NewKeyError(fmt.Sprintf("unsupported RSA key size: %d (expected 2048 or 4096)", bits))
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, WrapKeyError(err, "failed to generate RSA key pair")
	}
	return privateKey, nil
}

// ImportKey converts a raw crypto key (private or public) to a JWK with the
// given kid set.
func ImportKey(rawKey any, keyID string) (jwk.Key, error) {
	if keyID == "" {
		return nil, NewKeyError("keyID is required")
	}

	key, err := jwk.Import(rawKey)
	if err != nil {
		return nil, WrapKeyError(err, "failed to import key")
	}

	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, WrapKeyError(err, "failed to set key ID")
	}

	return key, nil
}

// PublicKeyOf returns the public JWK corresponding to a private JWK,
// preserving the kid.
func PublicKeyOf(key jwk.Key) (jwk.Key, error) {
	if key == nil {
		return nil, NewKeyError("key is nil")
	}

	publicKey, err := key.PublicKey()
	if err != nil {
		return nil, WrapKeyError(err, "failed to derive public key")
	}

	return publicKey, nil
}

// SaveKeyToJWKFile saves a JWK to a single-key JWK set file.
// note private keys are not encrypted at rest - the key directories are
// expected to be protected by filesystem permissions
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "receiver.jwk")
func SaveKeyToJWKFile(key jwk.Key, baseDir, filename string) error {
	jwkSet := jwk.NewSet()
	if err := jwkSet.AddKey(key); err != nil {
		return WrapKeyError(err, "failed to add key to JWK set")
	}

	jsonBytes, err := json.MarshalIndent(jwkSet, "", "  ")
	if err != nil {
		return WrapKeyError(err, "failed to marshal JWK set")
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return WrapKeyError(err, fmt.Sprintf("failed to open root directory %s", baseDir))
	}
	defer root.Close()

	if err := root.WriteFile(filename, jsonBytes, 0600); err != nil {
		return WrapKeyError(err, "failed to write file")
	}

	return nil
}

// ReadKeyFromJWKFile loads a single key from a JWK file.
// Files containing more than one key are rejected.
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "receiver.jwk")
func ReadKeyFromJWKFile(baseDir, filename string) (jwk.Key, error) {
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, WrapKeyError(err, fmt.Sprintf("failed to open root directory %s", baseDir))
	}
	defer root.Close()

	jsonBytes, err := root.ReadFile(filename)
	if err != nil {
		return nil, WrapKeyError(err, "failed to read file")
	}

	jwkSet, err := jwk.Parse(jsonBytes)
	if err != nil {
		return nil, WrapKeyError(err, "failed to parse JWK set")
	}

	if jwkSet.Len() == 0 {
		return nil, NewKeyError("JWK set is empty")
	}
	if jwkSet.Len() > 1 {
		return nil, NewKeyError("JWK file contains multiple keys - single key files are required")
	}

	key, ok := jwkSet.Key(0)
	if !ok {
		return nil, NewKeyError("failed to get key from JWK set")
	}

	return key, nil
}
