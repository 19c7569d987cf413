// keymanager.go resolves the key material needed to unwrap state envelopes.
//
// Two key roles exist per tenant:
//   - platform keys: the sender's public signing keys, used to verify the
//     inner JWS. Configured either as JWK files in the platform keys
//     directory or discovered from the tenant's JWKS endpoint.
//   - receiver keys: this service's private decryption keys, used to open
//     the outer JWE. Always loaded from the receiver keys directory.
//
// # tenant registry
// The key manager relies on a registry of provisioned tenants
// (tenant_id, jwks_endpoint, platform_key_id, receiver_key_id).
// A tenant configures either a JWKS endpoint or a manual platform kid,
// never both. Tenants not in the registry cannot submit state - their
// envelopes fail with key_not_found before any cryptographic work.
//
// Remote JWKS endpoints are cached and refreshed in the background via
// jwk.Cache. Manual keys are loaded once at startup.
package state

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	appcrypto "github.com/flow-state-networks/state-exchange/app/internal/crypto"
)

// KeyRole distinguishes the two kinds of key material the resolver serves.
type KeyRole string

const (
	// RolePlatform keys verify the authenticity (JWS) layer.
	RolePlatform KeyRole = "platform"

	// RoleReceiver keys decrypt the confidentiality (JWE) layer.
	RoleReceiver KeyRole = "receiver"
)

// tenant is one row of the tenant registry.
type tenant struct {
	// ID is the tenant identifier used in request paths and claims.
	ID uuid.UUID

	// JWKSEndpoint is the full URL of the tenant's platform JWKS endpoint
	// (e.g., "https://platform.example.com/.well-known/jwks.json").
	// Mutually exclusive with PlatformKeyID.
	JWKSEndpoint string

	// PlatformKeyID is the kid of the manually configured platform public
	// key for this tenant. The corresponding JWK must be present in the
	// platform keys directory.
	PlatformKeyID string

	// ReceiverKeyID is the kid of the receiver private key used to decrypt
	// envelopes addressed to this tenant. The corresponding JWK must be
	// present in the receiver keys directory.
	ReceiverKeyID string
}

// KeyManagerConfig holds configuration for the KeyManager.
type KeyManagerConfig struct {
	// TenantRegistryPath is the path to the tenant registry CSV.
	TenantRegistryPath string

	// PlatformKeysDir contains manually configured platform public keys,
	// one single-key JWK file per key.
	PlatformKeysDir string

	// ReceiverKeysDir contains receiver private keys, one single-key JWK
	// file per key.
	ReceiverKeysDir string

	// HTTPTimeout is the timeout for HTTP requests to fetch JWK sets.
	HTTPTimeout time.Duration

	// SkipJWKCache disables JWK cache initialization (useful for testing)
	SkipJWKCache bool

	// JWKCacheMinRefreshInterval / JWKCacheMaxRefreshInterval bound the
	// background refresh of remote JWK sets.
	JWKCacheMinRefreshInterval time.Duration
	JWKCacheMaxRefreshInterval time.Duration
}

// KeyManager maps (tenant, kid, role) to key material.
type KeyManager struct {
	// tenants is the registry, keyed by tenant id.
	tenants map[uuid.UUID]*tenant

	// platformKeys stores manually configured platform public keys, keyed by kid.
	platformKeys map[string]jwk.Key

	// receiverKeys stores receiver private keys, keyed by kid.
	receiverKeys map[string]jwk.Key

	// jwkCache is the auto-refreshing cache for remote JWK sets.
	jwkCache *jwk.Cache

	logger *slog.Logger

	// mu protects the key maps.
	// for future proofing (currently the maps are only written at startup)
	mu sync.RWMutex

	config *KeyManagerConfig
}

// NewKeyManager creates a KeyManager: loads the tenant registry, the manual
// key directories, and registers remote JWKS endpoints for background refresh.
func NewKeyManager(ctx context.Context, config *KeyManagerConfig, logger *slog.Logger) (*KeyManager, error) {
	if config == nil {
		return nil, NewInternalError("config is nil")
	}
	if logger == nil {
		return nil, NewInternalError("logger cannot be nil")
	}
	if config.HTTPTimeout == 0 {
		return nil, NewInternalError("HTTPTimeout is required")
	}

	km := &KeyManager{
		tenants:      make(map[uuid.UUID]*tenant),
		platformKeys: make(map[string]jwk.Key),
		receiverKeys: make(map[string]jwk.Key),
		logger:       logger,
		config:       config,
	}

	logger.Info("initializing KeyManager",
		slog.String("TENANT_REGISTRY_PATH", config.TenantRegistryPath),
		slog.Bool("SKIP_JWK_CACHE", config.SkipJWKCache))

	if err := km.loadTenantRegistry(); err != nil {
		return nil, WrapKeyNotFoundError(err, "failed to load tenant registry")
	}
	km.logger.Info("tenant registry loaded", slog.Int("tenants", len(km.tenants)))

	if err := km.loadKeyDir(config.PlatformKeysDir, km.platformKeys, false); err != nil {
		return nil, WrapKeyNotFoundError(err, "failed to load platform keys")
	}
	km.logger.Info("platform keys loaded", slog.Int("keys", len(km.platformKeys)))

	if err := km.loadKeyDir(config.ReceiverKeysDir, km.receiverKeys, true); err != nil {
		return nil, WrapKeyNotFoundError(err, "failed to load receiver keys")
	}
	km.logger.Info("receiver keys loaded", slog.Int("keys", len(km.receiverKeys)))

	if !config.SkipJWKCache {
		if err := km.initJWKCache(ctx); err != nil {
			return nil, WrapKeyNotFoundError(err, "failed to init JWK cache")
		}
		km.logger.Debug("JWK cache initialized")
	} else {
		km.logger.Info("JWK cache initialization skipped")
	}

	return km, nil
}

// Resolve returns the key for (tenantID, keyID, role).
//
// The kid must match the tenant's registered key for the role - a kid that
// exists but belongs to a different tenant is treated as not found, so one
// tenant's key material can never open another tenant's envelopes.
func (k *KeyManager) Resolve(ctx context.Context, tenantID uuid.UUID, keyID string, role KeyRole) (jwk.Key, error) {
	if keyID == "" {
		return nil, NewKeyNotFoundError("kid is required")
	}

	t, ok := k.tenants[tenantID]
	if !ok {
		return nil, NewKeyNotFoundError(fmt.Sprintf("unknown tenant: %s", tenantID))
	}

	switch role {
	case RoleReceiver:
		if t.ReceiverKeyID != keyID {
			return nil, NewKeyNotFoundError(fmt.Sprintf("kid %q is not the receiver key for tenant %s", keyID, tenantID))
		}
		k.mu.RLock()
		key, exists := k.receiverKeys[keyID]
		k.mu.RUnlock()
		if !exists {
			return nil, NewKeyNotFoundError(fmt.Sprintf("receiver key not loaded: %s", keyID))
		}
		return key, nil

	case RolePlatform:
		if t.JWKSEndpoint != "" {
			return k.lookupRemoteKey(ctx, t, keyID)
		}
		if t.PlatformKeyID != keyID {
			return nil, NewKeyNotFoundError(fmt.Sprintf("kid %q is not the platform key for tenant %s", keyID, tenantID))
		}
		k.mu.RLock()
		key, exists := k.platformKeys[keyID]
		k.mu.RUnlock()
		if !exists {
			return nil, NewKeyNotFoundError(fmt.Sprintf("platform key not loaded: %s", keyID))
		}
		return key, nil

	default:
		return nil, NewInternalError(fmt.Sprintf("unknown key role: %s", role))
	}
}

// ReceiverPublicKeys returns the public halves of all receiver keys for
// publication at /.well-known/jwks.json, so senders can encrypt to this
// service.
func (k *KeyManager) ReceiverPublicKeys() (jwk.Set, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	set := jwk.NewSet()
	for kid, key := range k.receiverKeys {
		publicKey, err := appcrypto.PublicKeyOf(key)
		if err != nil {
			return nil, WrapInternalError(err, fmt.Sprintf("failed to derive public key for %s", kid))
		}
		if err := set.AddKey(publicKey); err != nil {
			return nil, WrapInternalError(err, fmt.Sprintf("failed to add public key %s", kid))
		}
	}
	return set, nil
}

// loadTenantRegistry parses the tenant registry CSV
// (tenant_id, jwks_endpoint, platform_key_id, receiver_key_id).
func (k *KeyManager) loadTenantRegistry() error {
	k.logger.Info("loading tenant registry",
		slog.String("path", k.config.TenantRegistryPath))

	data, err := os.ReadFile(k.config.TenantRegistryPath)
	if err != nil {
		return err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse registry csv: %w", err)
	}

	for _, record := range records {
		// skip header row
		if record[0] == "tenant_id" {
			continue
		}
		if len(record) != 4 {
			return fmt.Errorf("invalid registry record: %v", record)
		}

		tenantID, err := uuid.Parse(record[0])
		if err != nil {
			return fmt.Errorf("invalid registry record - bad tenant_id: %v", record)
		}

		jwksEndpoint := record[1]
		platformKeyID := record[2]
		receiverKeyID := record[3]

		if jwksEndpoint == "" && platformKeyID == "" {
			return fmt.Errorf("invalid registry record - no jwks_endpoint or platform_key_id: %v", record)
		}
		if jwksEndpoint != "" && platformKeyID != "" {
			return fmt.Errorf("invalid registry record - both jwks_endpoint and platform_key_id set: %v", record)
		}
		if receiverKeyID == "" {
			return fmt.Errorf("invalid registry record - receiver_key_id not set: %v", record)
		}

		if jwksEndpoint != "" {
			if _, err := url.Parse(jwksEndpoint); err != nil {
				return fmt.Errorf("invalid registry record - invalid jwks_endpoint: %v", record)
			}
		}

		if k.tenants[tenantID] != nil {
			return fmt.Errorf("duplicate tenant in registry: %s", tenantID)
		}

		k.tenants[tenantID] = &tenant{
			ID:            tenantID,
			JWKSEndpoint:  jwksEndpoint,
			PlatformKeyID: platformKeyID,
			ReceiverKeyID: receiverKeyID,
		}
	}

	return nil
}

// loadKeyDir loads single-key JWK files from a directory into dest, keyed by
// kid. When private is set, keys without private material are rejected.
//
// Supported file extensions: .jwk, .jwks, .jwks.json
func (k *KeyManager) loadKeyDir(dir string, dest map[string]jwk.Key, private bool) error {
	k.logger.Info("loading keys", slog.String("dir", dir))

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("key directory does not exist: %s", dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("key path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()

		isJWKFile := strings.HasSuffix(filename, ".jwk") ||
			strings.HasSuffix(filename, ".jwks") ||
			strings.HasSuffix(filename, ".jwks.json")
		if !isJWKFile {
			k.logger.Debug("skipping non-JWK file", slog.String("file", filename))
			continue
		}

		key, err := appcrypto.ReadKeyFromJWKFile(dir, filename)
		if err != nil {
			k.logger.Error("skipping: failed to load key file",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		keyID, ok := key.KeyID()
		if !ok || keyID == "" {
			k.logger.Error("skipping: key missing kid",
				slog.String("file", filename))
			continue
		}

		if _, exists := dest[keyID]; exists {
			return fmt.Errorf("duplicate kid %q in %s", keyID, dir)
		}

		dest[keyID] = key

		k.logger.Info("key loaded",
			slog.String("file", filename),
			slog.String("kid", keyID),
			slog.Bool("private", private))
	}

	return nil
}

// initJWKCache initializes the JWK cache and registers the JWKS endpoint of
// every tenant that publishes one. The cache fetches and refreshes key sets
// in the background.
func (k *KeyManager) initJWKCache(ctx context.Context) error {

	client := httprc.NewClient()

	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to create JWK cache: %w", err)
	}
	k.jwkCache = cache

	registered := 0

	for _, t := range k.tenants {
		if t.JWKSEndpoint == "" {
			continue
		}

		err := k.jwkCache.Register(ctx, t.JWKSEndpoint,
			jwk.WithMinInterval(k.config.JWKCacheMinRefreshInterval),
			jwk.WithMaxInterval(k.config.JWKCacheMaxRefreshInterval),
			jwk.WithWaitReady(false), // Don't block startup - fetch in background
		)
		if err != nil {
			k.logger.Warn("failed to register JWKS endpoint",
				slog.String("tenant", t.ID.String()),
				slog.String("jwks_url", t.JWKSEndpoint),
				slog.String("error", err.Error()))
			continue
		}

		registered++
		k.logger.Info("registered JWKS endpoint for background fetch",
			slog.String("tenant", t.ID.String()),
			slog.String("jwks_url", t.JWKSEndpoint))
	}

	k.logger.Info("JWK cache initialization complete - keys will be fetched in background",
		slog.Int("endpoints_registered", registered))

	return nil
}

// lookupRemoteKey finds a key by kid in the tenant's cached JWK set.
func (k *KeyManager) lookupRemoteKey(ctx context.Context, t *tenant, keyID string) (jwk.Key, error) {
	if k.jwkCache == nil {
		return nil, NewKeyNotFoundError(fmt.Sprintf("JWK cache disabled - cannot resolve remote key %q for tenant %s", keyID, t.ID))
	}

	keySet, err := k.jwkCache.Lookup(ctx, t.JWKSEndpoint)
	if err != nil {
		return nil, WrapKeyNotFoundError(err, fmt.Sprintf("failed to look up JWK set for tenant %s", t.ID))
	}

	key, found := keySet.LookupKeyID(keyID)
	if !found {
		return nil, NewKeyNotFoundError(fmt.Sprintf("key %q not found in JWK set for tenant %s", keyID, t.ID))
	}

	return key, nil
}
