package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"co2ledger.org/internal/audit"
	"co2ledger.org/internal/ledger"
	"co2ledger.org/internal/obs"
)

type createAssetRequest struct {
	Owner     string               `json:"owner"`
	Metadata  []byte               `json:"metadata"`
	Emissions []ledger.CO2Emission `json:"emissions"`
	Parent    *ledger.ParentRef    `json:"parent"`
}

type transferAssetRequest struct {
	To        string               `json:"to"`
	Emissions []ledger.CO2Emission `json:"emissions"`
}

type assetCreatedResponse struct {
	AssetID ledger.AssetID `json:"asset_id"`
	Owner   ledger.Account `json:"owner"`
}

type ownedAssetsResponse struct {
	Owner  ledger.Account   `json:"owner"`
	Assets []ledger.AssetID `json:"assets"`
}

type provenanceResponse struct {
	AssetID ledger.AssetID        `json:"asset_id"`
	Tree    []ledger.AssetDetails `json:"tree"`
}

func (a *API) handleAssetsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAsset(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAssetResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/assets/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, err := parseAssetID(parts[0])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAsset(w, r, id)
		return
	}

	switch parts[1] {
	case "owner", "paused", "metadata", "parent", "provenance":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
	}

	switch parts[1] {
	case "owner":
		a.getOwner(w, r, id)
	case "paused":
		a.getPaused(w, r, id)
	case "emissions":
		switch r.Method {
		case http.MethodGet:
			a.getEmissions(w, r, id)
		case http.MethodPost:
			a.addEmissions(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "metadata":
		a.getMetadata(w, r, id)
	case "parent":
		a.getParent(w, r, id)
	case "provenance":
		a.getProvenance(w, r, id)
	case "transfer":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transferAsset(w, r, id)
	case "pause":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.pauseAsset(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAccountAssets(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "assets" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	owner := ledger.Account(parts[0])
	assets, err := a.ledger.ListAssets(r.Context(), owner)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if assets == nil {
		assets = []ledger.AssetID{}
	}
	writeJSON(w, http.StatusOK, ownedAssetsResponse{Owner: owner, Assets: assets})
}

func (a *API) createAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req createAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	owner := ledger.Account(strings.TrimSpace(req.Owner))
	if owner == "" {
		owner = caller
	}

	id, err := a.ledger.Create(r.Context(), caller, owner, req.Metadata, req.Emissions, req.Parent)
	obs.ObserveLedgerOp("create", outcome(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	fields := map[string]any{
		"asset_id":  id,
		"owner":     owner,
		"emissions": len(req.Emissions),
	}
	if req.Parent != nil {
		fields["parent_id"] = req.Parent.ID
	}
	_ = audit.LogEvent(r.Context(), "ledger.asset.create", fields)

	w.Header().Set("Location", fmt.Sprintf("/v1/assets/%d", id))
	writeJSON(w, http.StatusCreated, assetCreatedResponse{AssetID: id, Owner: owner})
}

func (a *API) transferAsset(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req transferAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to := ledger.Account(strings.TrimSpace(req.To))
	if to == "" {
		writeError(w, r, http.StatusBadRequest, "to is required")
		return
	}

	err := a.ledger.Transfer(r.Context(), caller, to, id, req.Emissions)
	obs.ObserveLedgerOp("transfer", outcome(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "ledger.asset.transfer", map[string]any{
		"asset_id":  id,
		"to":        to,
		"emissions": len(req.Emissions),
	})
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "owner": to})
}

func (a *API) pauseAsset(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	err := a.ledger.Pause(r.Context(), caller, id)
	obs.ObserveLedgerOp("pause", outcome(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "ledger.asset.pause", map[string]any{"asset_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "paused": true})
}

func (a *API) addEmissions(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var item ledger.CO2Emission
	if err := decodeJSON(w, r, &item); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.ledger.AddEmissions(r.Context(), caller, id, item)
	obs.ObserveLedgerOp("add_emissions", outcome(err))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "ledger.asset.emissions.add", map[string]any{
		"asset_id": id,
		"category": item.Category.String(),
		"value":    item.Value,
	})
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id})
}

func (a *API) getAsset(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	details, ok, err := a.ledger.GetAsset(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (a *API) getOwner(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	owner, ok, err := a.ledger.OwnerOf(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "owner": owner})
}

func (a *API) getPaused(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	paused, ok, err := a.ledger.HasPaused(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "paused": paused})
}

func (a *API) getEmissions(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	emissions, ok, err := a.ledger.GetAssetEmissions(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "emissions": emissions})
}

func (a *API) getMetadata(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	metadata, ok, err := a.ledger.GetMetadata(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "metadata": metadata})
}

func (a *API) getParent(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	parent, ok, err := a.ledger.GetParentDetails(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": id, "parent": parent})
}

func (a *API) getProvenance(w http.ResponseWriter, r *http.Request, id ledger.AssetID) {
	tree, ok, err := a.ledger.QueryEmissions(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, provenanceResponse{AssetID: id, Tree: tree})
}

func parseAssetID(raw string) (ledger.AssetID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("asset id must be an unsigned integer")
	}
	return ledger.AssetID(v), nil
}

// caller resolves the authenticated account, or replies 401 itself.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (ledger.Account, bool) {
	account, ok := authAccount(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return ledger.Account(account), true
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return ledger.ErrorCode(err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrEmissionsEmpty),
		errors.Is(err, ledger.ErrZeroEmissionsItem),
		errors.Is(err, ledger.ErrMetadataOverflow),
		errors.Is(err, ledger.ErrDataSourceOverflow),
		errors.Is(err, ledger.ErrInvalidAssetRelation):
		writeLedgerError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrNotOwner):
		writeLedgerError(w, r, http.StatusForbidden, err)
	case errors.Is(err, ledger.ErrAssetNotFound):
		writeLedgerError(w, r, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrAlreadyPaused),
		errors.Is(err, ledger.ErrNotPaused),
		errors.Is(err, ledger.ErrAssetAlreadyExists),
		errors.Is(err, ledger.ErrEmissionsOverflow):
		writeLedgerError(w, r, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrAssetIDOverflow):
		writeLedgerError(w, r, http.StatusInternalServerError, err)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeLedgerError(w http.ResponseWriter, r *http.Request, code int, err error) {
	payload := map[string]any{
		"error": err.Error(),
		"code":  ledger.ErrorCode(err),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
