package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/flow-state-networks/state-exchange/app/internal/crypto"
	"github.com/flow-state-networks/state-exchange/app/internal/server/handlers"
	"github.com/flow-state-networks/state-exchange/app/internal/state"
	"github.com/flow-state-networks/state-exchange/app/internal/storage/inmem"
)

type handlerFixture struct {
	tenantID    uuid.UUID
	platformKey jwk.Key
	receiverKey jwk.Key
	router      *chi.Mux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	tenantID := uuid.New()

	baseDir := t.TempDir()
	platformDir := filepath.Join(baseDir, "platform")
	receiverDir := filepath.Join(baseDir, "receiver")
	for _, dir := range []string{platformDir, receiverDir} {
		if err := os.Mkdir(dir, 0700); err != nil {
			t.Fatalf("could not create key dir: %v", err)
		}
	}

	platformRaw, err := crypto.GenerateECP384KeyPair()
	if err != nil {
		t.Fatalf("could not generate key: %v", err)
	}
	platformKey, err := crypto.ImportKey(platformRaw, "platform-key-1")
	if err != nil {
		t.Fatalf("could not import key: %v", err)
	}
	platformPublic, err := crypto.PublicKeyOf(platformKey)
	if err != nil {
		t.Fatalf("could not derive public key: %v", err)
	}

	receiverRaw, err := crypto.GenerateECP384KeyPair()
	if err != nil {
		t.Fatalf("could not generate key: %v", err)
	}
	receiverPrivate, err := crypto.ImportKey(receiverRaw, "receiver-key-1")
	if err != nil {
		t.Fatalf("could not import key: %v", err)
	}
	receiverPublic, err := crypto.PublicKeyOf(receiverPrivate)
	if err != nil {
		t.Fatalf("could not derive public key: %v", err)
	}

	if err := crypto.SaveKeyToJWKFile(platformPublic, platformDir, "platform.jwk"); err != nil {
		t.Fatalf("could not save platform key: %v", err)
	}
	if err := crypto.SaveKeyToJWKFile(receiverPrivate, receiverDir, "receiver.jwk"); err != nil {
		t.Fatalf("could not save receiver key: %v", err)
	}

	registryPath := filepath.Join(baseDir, "tenants.csv")
	registry := "tenant_id,jwks_endpoint,platform_key_id,receiver_key_id\n" +
		fmt.Sprintf("%s,,platform-key-1,receiver-key-1\n", tenantID)
	if err := os.WriteFile(registryPath, []byte(registry), 0600); err != nil {
		t.Fatalf("could not write registry: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	keyManager, err := state.NewKeyManager(context.Background(), &state.KeyManagerConfig{
		TenantRegistryPath: registryPath,
		PlatformKeysDir:    platformDir,
		ReceiverKeysDir:    receiverDir,
		HTTPTimeout:        5 * time.Second,
		SkipJWKCache:       true,
	}, logger)
	if err != nil {
		t.Fatalf("could not create key manager: %v", err)
	}

	exchanger := state.NewExchanger(keyManager, inmem.New(), 30*time.Second, logger)
	statesHandler := handlers.NewStatesHandler(exchanger)

	router := chi.NewRouter()
	router.Route("/states", func(r chi.Router) {
		r.Post("/{tenantId}", statesHandler.HandleSubmit)
		r.Get("/{tenantId}/{stateId}", statesHandler.HandleGet)
		r.Delete("/{tenantId}/{stateId}", statesHandler.HandleDelete)
	})

	return &handlerFixture{
		tenantID:    tenantID,
		platformKey: platformKey,
		receiverKey: receiverPublic,
		router:      router,
	}
}

func (f *handlerFixture) envelope(t *testing.T, stateID uuid.UUID, mutate func(*crypto.Claims)) string {
	t.Helper()

	now := time.Now()
	claims := &crypto.Claims{
		Issuer:            "platform.example.com",
		Audience:          f.tenantID.String(),
		Subject:           stateID.String(),
		TokenID:           uuid.New().String(),
		IssuedAt:          now.Unix(),
		NotBefore:         now.Unix(),
		Expiration:        now.Add(5 * time.Minute).Unix(),
		ID:                stateID.String(),
		Tenant:            f.tenantID.String(),
		Flow:              uuid.New().String(),
		FlowVersion:       uuid.New().String(),
		CurrentMapElement: uuid.New().String(),
		CurrentUser:       uuid.New().String(),
		CreatedAt:         now.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         now.UTC().Format(time.RFC3339Nano),
		Content:           `{"values":{"customer":"acme"}}`,
	}
	if mutate != nil {
		mutate(claims)
	}

	envelope, err := crypto.WrapState(claims, f.platformKey, f.receiverKey)
	if err != nil {
		t.Fatalf("could not wrap claims: %v", err)
	}
	return envelope
}

func (f *handlerFixture) submit(t *testing.T, tenantID string, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("POST", "/states/"+tenantID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func submissionBody(tokens ...string) string {
	requests := make([]state.StateRequest, 0, len(tokens))
	for _, token := range tokens {
		requests = append(requests, state.StateRequest{Token: token})
	}
	body, _ := json.Marshal(requests)
	return string(body)
}

func TestSubmitReturns204AndStoresRecord(t *testing.T) {
	f := newHandlerFixture(t)

	stateID := uuid.New()
	rr := f.submit(t, f.tenantID.String(), submissionBody(f.envelope(t, stateID, nil)))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("POST status = %d, want 204 (body: %s)", rr.Code, rr.Body.String())
	}

	// the stored record is visible via GET
	req := httptest.NewRequest("GET", fmt.Sprintf("/states/%s/%s", f.tenantID, stateID), nil)
	getRR := httptest.NewRecorder()
	f.router.ServeHTTP(getRR, req)

	if getRR.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200 (body: %s)", getRR.Code, getRR.Body.String())
	}

	var record state.StateRecord
	if err := json.Unmarshal(getRR.Body.Bytes(), &record); err != nil {
		t.Fatalf("could not parse GET response: %v", err)
	}
	if record.ID != stateID {
		t.Errorf("record id = %s, want %s", record.ID, stateID)
	}
}

func TestSubmitErrorStatuses(t *testing.T) {
	f := newHandlerFixture(t)
	otherTenant := uuid.New()

	tests := []struct {
		name     string
		tenantID string
		body     string
		wantCode int
	}{
		{
			name:     "tenant id not a uuid",
			tenantID: "not-a-uuid",
			body:     submissionBody(f.envelope(t, uuid.New(), nil)),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "body not json",
			tenantID: f.tenantID.String(),
			body:     "{not json",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty batch",
			tenantID: f.tenantID.String(),
			body:     "[]",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty token",
			tenantID: f.tenantID.String(),
			body:     `[{"token":""}]`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "garbage token",
			tenantID: f.tenantID.String(),
			body:     submissionBody("garbage"),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown tenant",
			tenantID: otherTenant.String(),
			body:     submissionBody(f.envelope(t, uuid.New(), nil)),
			wantCode: http.StatusBadRequest, // key_not_found
		},
		{
			name:     "expired envelope",
			tenantID: f.tenantID.String(),
			body: submissionBody(f.envelope(t, uuid.New(), func(c *crypto.Claims) {
				c.Expiration = time.Now().Add(-time.Hour).Unix()
			})),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "audience mismatch",
			tenantID: f.tenantID.String(),
			body: submissionBody(f.envelope(t, uuid.New(), func(c *crypto.Claims) {
				c.Audience = otherTenant.String()
			})),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "claims malformed",
			tenantID: f.tenantID.String(),
			body: submissionBody(f.envelope(t, uuid.New(), func(c *crypto.Claims) {
				c.Flow = "not-a-uuid"
			})),
			wantCode: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.submit(t, tt.tenantID, tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body: %s)", rr.Code, tt.wantCode, rr.Body.String())
			}

			var errorResponse state.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &errorResponse); err != nil {
				t.Fatalf("error body is not an ErrorResponse: %v", err)
			}
			if errorResponse.StatusCode != tt.wantCode {
				t.Errorf("ErrorResponse.StatusCode = %d, want %d", errorResponse.StatusCode, tt.wantCode)
			}
			if errorResponse.ErrorCode == "" {
				t.Error("ErrorResponse.ErrorCode is empty")
			}
		})
	}
}

func TestGetUnknownStateReturns404(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("GET", fmt.Sprintf("/states/%s/%s", f.tenantID, uuid.New()), nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteReturns204(t *testing.T) {
	f := newHandlerFixture(t)

	stateID := uuid.New()
	rr := f.submit(t, f.tenantID.String(), submissionBody(f.envelope(t, stateID, nil)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("POST status = %d, want 204", rr.Code)
	}

	req := httptest.NewRequest("DELETE", fmt.Sprintf("/states/%s/%s", f.tenantID, stateID), nil)
	delRR := httptest.NewRecorder()
	f.router.ServeHTTP(delRR, req)
	if delRR.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", delRR.Code)
	}

	getReq := httptest.NewRequest("GET", fmt.Sprintf("/states/%s/%s", f.tenantID, stateID), nil)
	getRR := httptest.NewRecorder()
	f.router.ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusNotFound {
		t.Errorf("GET after DELETE status = %d, want 404", getRR.Code)
	}
}
