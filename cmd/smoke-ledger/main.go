package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Smoke scenario against a running co2ledger-api: mint a token, create an
// asset, record emissions, pause it, split off a child and verify the
// provenance walk. Exits non-zero on any mismatch.

type tokenResponse struct {
	Token string `json:"token"`
}

type assetCreatedResponse struct {
	AssetID uint64 `json:"asset_id"`
	Owner   string `json:"owner"`
}

type assetDetails struct {
	AssetID   uint64           `json:"asset_id"`
	Metadata  []byte           `json:"metadata"`
	Emissions []map[string]any `json:"emissions"`
	Parent    *struct {
		ID       uint64 `json:"id"`
		Relation uint64 `json:"relation"`
	} `json:"parent"`
}

type provenanceResponse struct {
	AssetID uint64         `json:"asset_id"`
	Tree    []assetDetails `json:"tree"`
}

func main() {
	base := os.Getenv("CO2LEDGER_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	token := obtainToken(client, base, "smoke-alice")
	auth := "Bearer " + token

	emission := map[string]any{
		"category":    "Process",
		"data_source": []byte("smoke"),
		"balanced":    true,
		"value":       100,
		"date":        time.Now().Unix(),
	}

	var created assetCreatedResponse
	post(client, base+"/v1/assets", auth, map[string]any{
		"metadata":  []byte("smoke raw material"),
		"emissions": []any{emission},
	}, http.StatusCreated, &created)
	parentID := created.AssetID

	emission["value"] = 40
	post(client, fmt.Sprintf("%s/v1/assets/%d/emissions", base, parentID), auth, emission, http.StatusOK, nil)

	post(client, fmt.Sprintf("%s/v1/assets/%d/pause", base, parentID), auth, nil, http.StatusOK, nil)

	// Pausing again must conflict.
	post(client, fmt.Sprintf("%s/v1/assets/%d/pause", base, parentID), auth, nil, http.StatusConflict, nil)

	emission["value"] = 5
	var child assetCreatedResponse
	post(client, base+"/v1/assets", auth, map[string]any{
		"metadata":  []byte("smoke component"),
		"emissions": []any{emission},
		"parent":    map[string]any{"id": parentID, "relation": 50},
	}, http.StatusCreated, &child)

	if child.AssetID <= parentID {
		log.Fatalf("child id %d not above parent %d", child.AssetID, parentID)
	}

	var prov provenanceResponse
	get(client, fmt.Sprintf("%s/v1/assets/%d/provenance", base, child.AssetID), http.StatusOK, &prov)

	if len(prov.Tree) != 2 {
		log.Fatalf("expected provenance walk of 2, got %d", len(prov.Tree))
	}
	if prov.Tree[0].AssetID != child.AssetID || prov.Tree[1].AssetID != parentID {
		log.Fatalf("unexpected walk order: %d, %d", prov.Tree[0].AssetID, prov.Tree[1].AssetID)
	}
	if prov.Tree[0].Parent == nil || prov.Tree[0].Parent.ID != parentID {
		log.Fatalf("child parent reference missing or wrong")
	}
	if prov.Tree[1].Parent != nil {
		log.Fatalf("root unexpectedly has a parent")
	}
	if len(prov.Tree[1].Emissions) != 2 {
		log.Fatalf("expected 2 parent emissions, got %d", len(prov.Tree[1].Emissions))
	}

	fmt.Printf("co2ledger smoke test passed: parent=%d child=%d\n", parentID, child.AssetID)
}

func obtainToken(client *http.Client, base, account string) string {
	var resp tokenResponse
	post(client, base+"/v1/auth/token", "", map[string]any{
		"account": account,
		"roles":   []string{"manufacturer"},
	}, http.StatusOK, &resp)
	if resp.Token == "" {
		log.Fatal("empty token issued")
	}
	return resp.Token
}

func post(client *http.Client, url, auth string, body any, wantStatus int, out any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal body for %s: %v", url, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	do(client, req, wantStatus, out)
}

func get(client *http.Client, url string, wantStatus int, out any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("new request %s: %v", url, err)
	}
	do(client, req, wantStatus, out)
}

func do(client *http.Client, req *http.Request, wantStatus int, out any) {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d", req.Method, req.URL, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s response: %v", req.URL, err)
		}
	}
}
