package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"co2ledger.org/internal/auth"
	"co2ledger.org/internal/ledger"
	"co2ledger.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CO2LEDGER_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	st := stream.New()
	svc := ledger.New(ledger.NewMemStore(), st, ledger.DefaultConfig())
	api := New(ReadyProbe{Store: svc.Store()}, "test", svc, st, auth.NewRegistry())
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(account string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"account": account,
		"roles":   roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func (c *apiClient) authHeader(account string) map[string]string {
	c.t.Helper()
	token := c.obtainToken(account, []string{"manufacturer"})
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func emissionBody(value uint64) map[string]any {
	return map[string]any{
		"category":    "Process",
		"data_source": []byte("sensor-1"),
		"balanced":    true,
		"value":       value,
		"date":        1700000000,
	}
}

func TestAPIAssetLifecycle(t *testing.T) {
	api := newTestAPI(t)
	alice := api.authHeader("alice")
	bob := api.authHeader("bob")

	// Create an asset owned by alice.
	resp := api.post("/v1/assets", map[string]any{
		"metadata":  []byte("steel batch #1"),
		"emissions": []any{emissionBody(50)},
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	created := decode[assetCreatedResponse](t, resp)
	if created.AssetID != 1 {
		t.Fatalf("unexpected asset id: %d", created.AssetID)
	}
	if created.Owner != "alice" {
		t.Fatalf("unexpected owner: %s", created.Owner)
	}

	// Reads are public.
	resp = api.get("/v1/assets/1/owner", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	owner := decode[map[string]any](t, resp)
	if owner["owner"] != "alice" {
		t.Fatalf("unexpected owner: %v", owner["owner"])
	}

	// Append an emissions record.
	resp = api.post("/v1/assets/1/emissions", emissionBody(25), alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/assets/1/emissions", nil, nil)
	emissions := decode[map[string]any](t, resp)
	if items := emissions["emissions"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 emissions, got %d", len(items))
	}

	// Transfer to bob with a shipment record.
	resp = api.post("/v1/assets/1/transfer", map[string]any{
		"to":        "bob",
		"emissions": []any{emissionBody(10)},
	}, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/accounts/bob/assets", nil, nil)
	owned := decode[ownedAssetsResponse](t, resp)
	if len(owned.Assets) != 1 || owned.Assets[0] != 1 {
		t.Fatalf("unexpected bob assets: %v", owned.Assets)
	}
	resp = api.get("/v1/accounts/alice/assets", nil, nil)
	owned = decode[ownedAssetsResponse](t, resp)
	if len(owned.Assets) != 0 {
		t.Fatalf("alice should own nothing, got %v", owned.Assets)
	}

	// Alice no longer owns the asset.
	resp = api.post("/v1/assets/1/pause", nil, alice)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["code"] != "NotOwner" {
		t.Fatalf("unexpected error code: %v", errBody["code"])
	}

	// Bob pauses; pausing twice conflicts.
	resp = api.post("/v1/assets/1/pause", nil, bob)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/assets/1/pause", nil, bob)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	errBody = decode[map[string]any](t, resp)
	if errBody["code"] != "AlreadyPaused" {
		t.Fatalf("unexpected error code: %v", errBody["code"])
	}
}

func TestAPIProvenance(t *testing.T) {
	api := newTestAPI(t)
	alice := api.authHeader("alice")

	resp := api.post("/v1/assets", map[string]any{
		"metadata":  []byte("raw coil"),
		"emissions": []any{emissionBody(100)},
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/assets/1/pause", nil, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Split a child off the paused parent.
	resp = api.post("/v1/assets", map[string]any{
		"metadata":  []byte("cut sheet"),
		"emissions": []any{emissionBody(5)},
		"parent":    map[string]any{"id": 1, "relation": 40},
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	child := decode[assetCreatedResponse](t, resp)
	if child.AssetID != 2 {
		t.Fatalf("unexpected child id: %d", child.AssetID)
	}

	resp = api.get("/v1/assets/2/provenance", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	prov := decode[provenanceResponse](t, resp)
	if len(prov.Tree) != 2 {
		t.Fatalf("expected walk of 2, got %d", len(prov.Tree))
	}
	if prov.Tree[0].AssetID != 2 || prov.Tree[1].AssetID != 1 {
		t.Fatalf("unexpected walk order: %v, %v", prov.Tree[0].AssetID, prov.Tree[1].AssetID)
	}
	if prov.Tree[1].Parent != nil {
		t.Fatalf("root should have no parent")
	}
}

func TestAPIValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	alice := api.authHeader("alice")

	// Empty emissions on create.
	resp := api.post("/v1/assets", map[string]any{
		"metadata":  []byte("x"),
		"emissions": []any{},
	}, alice)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["code"] != "EmissionsEmpty" {
		t.Fatalf("unexpected error code: %v", errBody["code"])
	}

	// Unknown asset.
	resp = api.post("/v1/assets/99/pause", nil, alice)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Non-numeric id.
	resp = api.get("/v1/assets/not-a-number", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Missing asset reads report 404.
	resp = api.get("/v1/assets/42", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/assets", map[string]any{
		"metadata":  []byte("x"),
		"emissions": []any{emissionBody(1)},
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"account": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointGatesRegisteredRoles(t *testing.T) {
	api := newTestAPI(t)
	alice := api.authHeader("alice")

	resp := api.post("/v1/roles", map[string]any{"name": "auditor"}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Bob cannot mint a token claiming the registered role.
	resp = api.post("/v1/auth/token", map[string]any{
		"account": "bob",
		"roles":   []string{"auditor"},
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The role owner can.
	resp = api.post("/v1/auth/token", map[string]any{
		"account": "alice",
		"roles":   []string{"auditor"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
