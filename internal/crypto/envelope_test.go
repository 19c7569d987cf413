package crypto

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testClaims() *Claims {
	now := time.Now()
	return &Claims{
		Issuer:            "platform.example.com",
		Audience:          "9f1c1c62-58a1-4f5b-a0bb-6a1b8f0b2f31",
		Subject:           "5d8e2f60-1f4d-4cbe-9d31-9a2f1b4c9e11",
		TokenID:           "token-1",
		IssuedAt:          now.Unix(),
		NotBefore:         now.Unix(),
		Expiration:        now.Add(5 * time.Minute).Unix(),
		ID:                "5d8e2f60-1f4d-4cbe-9d31-9a2f1b4c9e11",
		Tenant:            "9f1c1c62-58a1-4f5b-a0bb-6a1b8f0b2f31",
		Flow:              "1a8a4d2c-2f6e-47f2-bb0c-3c1e5f9d8a22",
		FlowVersion:       "2b9b5e3d-3a7f-58a3-cc1d-4d2f6a0e9b33",
		CurrentMapElement: "3cac6f4e-4b80-49b4-dd2e-5e3a7b1f0c44",
		CurrentUser:       "4dbd7a5f-5c91-4ac5-ee3f-6f4b8c2a1d55",
		CreatedAt:         now.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         now.UTC().Format(time.RFC3339Nano),
		Content:           `{"values":{"customer":"acme"}}`,
	}
}

func TestWrapAndUnwrapEnvelopeEC(t *testing.T) {
	signing := mustECKeyPairJWK(t, "platform-key-1")
	encryption := mustECKeyPairJWK(t, "receiver-key-1")

	claims := testClaims()

	envelope, err := WrapState(claims, signing.private, encryption.public)
	if err != nil {
		t.Fatalf("WrapState failed: %v", err)
	}

	// outer layer must be a 5-part compact JWE with our headers
	jweHeader, err := ParseJWEHeader(envelope)
	if err != nil {
		t.Fatalf("ParseJWEHeader failed: %v", err)
	}
	if jweHeader.Algorithm != "ECDH-ES+A192KW" {
		t.Errorf("unexpected JWE alg: %q", jweHeader.Algorithm)
	}
	if jweHeader.Encryption != "A192CBC-HS384" {
		t.Errorf("unexpected JWE enc: %q", jweHeader.Encryption)
	}
	if jweHeader.KeyID != "receiver-key-1" {
		t.Errorf("unexpected JWE kid: %q", jweHeader.KeyID)
	}
	if jweHeader.ContentType != "JWT" {
		t.Errorf("unexpected JWE cty: %q", jweHeader.ContentType)
	}

	signedToken, err := DecryptEnvelope(envelope, encryption.private)
	if err != nil {
		t.Fatalf("DecryptEnvelope failed: %v", err)
	}

	jwsHeader, err := ParseJWSHeader(string(signedToken))
	if err != nil {
		t.Fatalf("ParseJWSHeader failed: %v", err)
	}
	if jwsHeader.Algorithm != "ES384" {
		t.Errorf("unexpected JWS alg: %q", jwsHeader.Algorithm)
	}
	if jwsHeader.KeyID != "platform-key-1" {
		t.Errorf("unexpected JWS kid: %q", jwsHeader.KeyID)
	}

	got, err := VerifySignedClaims(signedToken, signing.public)
	if err != nil {
		t.Fatalf("VerifySignedClaims failed: %v", err)
	}

	if got.ID != claims.ID {
		t.Errorf("id round trip failed: got %q want %q", got.ID, claims.ID)
	}
	if got.Tenant != claims.Tenant {
		t.Errorf("tenant round trip failed: got %q want %q", got.Tenant, claims.Tenant)
	}
	if got.Content != claims.Content {
		t.Errorf("content round trip failed: got %q want %q", got.Content, claims.Content)
	}
}

func TestWrapAndUnwrapEnvelopeRSA(t *testing.T) {
	signing := mustRSAKeyPairJWK(t, "platform-rsa-1")
	encryption := mustRSAKeyPairJWK(t, "receiver-rsa-1")

	claims := testClaims()

	envelope, err := WrapState(claims, signing.private, encryption.public)
	if err != nil {
		t.Fatalf("WrapState failed: %v", err)
	}

	jweHeader, err := ParseJWEHeader(envelope)
	if err != nil {
		t.Fatalf("ParseJWEHeader failed: %v", err)
	}
	if jweHeader.Algorithm != "RSA-OAEP-256" {
		t.Errorf("unexpected JWE alg: %q", jweHeader.Algorithm)
	}
	if jweHeader.Encryption != "A256GCM" {
		t.Errorf("unexpected JWE enc: %q", jweHeader.Encryption)
	}

	signedToken, err := DecryptEnvelope(envelope, encryption.private)
	if err != nil {
		t.Fatalf("DecryptEnvelope failed: %v", err)
	}

	got, err := VerifySignedClaims(signedToken, signing.public)
	if err != nil {
		t.Fatalf("VerifySignedClaims failed: %v", err)
	}
	if got.ID != claims.ID {
		t.Errorf("id round trip failed: got %q want %q", got.ID, claims.ID)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signing := mustECKeyPairJWK(t, "platform-key-1")
	other := mustECKeyPairJWK(t, "platform-key-2")

	signed, err := SignClaims(testClaims(), signing.private)
	if err != nil {
		t.Fatalf("SignClaims failed: %v", err)
	}

	if _, err := VerifySignedClaims([]byte(signed), other.public); err == nil {
		t.Error("VerifySignedClaims accepted a signature from the wrong key")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	signing := mustECKeyPairJWK(t, "platform-key-1")
	encryption := mustECKeyPairJWK(t, "receiver-key-1")
	other := mustECKeyPairJWK(t, "receiver-key-2")

	envelope, err := WrapState(testClaims(), signing.private, encryption.public)
	if err != nil {
		t.Fatalf("WrapState failed: %v", err)
	}

	if _, err := DecryptEnvelope(envelope, other.private); err == nil {
		t.Error("DecryptEnvelope accepted the wrong receiver key")
	}
}

func TestDecryptRejectsUnlistedAlgorithm(t *testing.T) {
	signing := mustECKeyPairJWK(t, "platform-key-1")
	encryption := mustECKeyPairJWK(t, "receiver-key-1")

	envelope, err := WrapState(testClaims(), signing.private, encryption.public)
	if err != nil {
		t.Fatalf("WrapState failed: %v", err)
	}

	// rewrite the protected header to claim an algorithm outside the
	// allow-list - the codec must reject it before attempting decryption
	parts := strings.Split(envelope, ".")
	header := map[string]any{}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("could not decode header: %v", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		t.Fatalf("could not unmarshal header: %v", err)
	}
	header["alg"] = "PBES2-HS256+A128KW"
	tampered, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("could not marshal header: %v", err)
	}
	parts[0] = base64.RawURLEncoding.EncodeToString(tampered)

	_, err = DecryptEnvelope(strings.Join(parts, "."), encryption.private)
	if err == nil {
		t.Fatal("DecryptEnvelope accepted an unlisted key management algorithm")
	}
	if !strings.Contains(err.Error(), "unsupported key management algorithm") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJWSHeaderRejectsMalformedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not compact", "only-one-part"},
		{"two parts", "aaaa.bbbb"},
		{"bad base64", "!!!.payload.sig"},
		{"missing kid", base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES384"}`)) + ".payload.sig"},
		{"missing alg", base64.RawURLEncoding.EncodeToString([]byte(`{"kid":"k1"}`)) + ".payload.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWSHeader(tt.token); err == nil {
				t.Errorf("ParseJWSHeader accepted malformed token %q", tt.token)
			}
		})
	}
}

func TestParseJWEHeaderRejectsMalformedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"jws shaped", "aaaa.bbbb.cccc"},
		{"bad base64", "!!!.k.iv.ct.tag"},
		{"missing enc", base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ECDH-ES+A192KW","kid":"k1"}`)) + ".k.iv.ct.tag"},
		{"missing kid", base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ECDH-ES+A192KW","enc":"A192CBC-HS384"}`)) + ".k.iv.ct.tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWEHeader(tt.token); err == nil {
				t.Errorf("ParseJWEHeader accepted malformed token %q", tt.token)
			}
		})
	}
}

func TestSignClaimsRequiresKid(t *testing.T) {
	raw, err := GenerateECP384KeyPair()
	if err != nil {
		t.Fatalf("could not create EC key: %v", err)
	}
	key, err := ImportKey(raw, "k1")
	if err != nil {
		t.Fatalf("could not import key: %v", err)
	}
	if err := key.Remove("kid"); err != nil {
		t.Fatalf("could not remove kid: %v", err)
	}

	if _, err := SignClaims(testClaims(), key); err == nil {
		t.Error("SignClaims accepted a key without a kid")
	}
}
