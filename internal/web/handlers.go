package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
)

var errUnsupportedMediaType = errors.New("request body must be application/json")

type amountRequest struct {
	Amount string `json:"amount"`
}

type signatureView struct {
	R        string         `json:"r"`
	S        string         `json:"s"`
	V        uint8          `json:"v"`
	Deadline int64          `json:"deadline"`
	Vault    common.Address `json:"vault"`
	Value    string         `json:"value"`
}

type inFlightView struct {
	Kind  types.OperationKind  `json:"kind"`
	Vault common.Address       `json:"vault"`
	Phase types.OperationPhase `json:"phase"`
}

type stateView struct {
	Account        common.Address          `json:"account"`
	ApprovalTarget common.Address          `json:"approval_target"`
	Flags          types.OperationFlags    `json:"flags"`
	InputAmount    string                  `json:"input_amount"`
	HasSignature   bool                    `json:"has_signature"`
	Signature      *signatureView          `json:"signature,omitempty"`
	Allowances     []types.AllowanceRecord `json:"allowances"`
	InFlight       []inFlightView          `json:"in_flight"`
}

func newSignatureView(sig *types.PermitSignature) *signatureView {
	if sig == nil {
		return nil
	}
	return &signatureView{
		R:        hexutil.Encode(sig.R[:]),
		S:        hexutil.Encode(sig.S[:]),
		V:        sig.V,
		Deadline: sig.Deadline,
		Vault:    sig.Vault,
		Value:    sig.Value.String(),
	}
}

func (ws *WebServer) newStateView(st types.EarnState) stateView {
	view := stateView{
		Account:        ws.service.Account(),
		ApprovalTarget: ws.service.ApprovalTarget(),
		Flags:          st.Flags,
		InputAmount:    st.InputAmount,
		HasSignature:   st.Signature != nil,
		Signature:      newSignatureView(st.Signature),
		Allowances:     make([]types.AllowanceRecord, 0, len(st.Allowances)),
		InFlight:       make([]inFlightView, 0, len(st.InFlight)),
	}
	for _, rec := range st.Allowances {
		view.Allowances = append(view.Allowances, rec)
	}
	sort.Slice(view.Allowances, func(i, j int) bool {
		return view.Allowances[i].Token.Cmp(view.Allowances[j].Token) < 0
	})
	for key, phase := range st.InFlight {
		view.InFlight = append(view.InFlight, inFlightView{Kind: key.Kind, Vault: key.Vault, Phase: phase})
	}
	sort.Slice(view.InFlight, func(i, j int) bool {
		if view.InFlight[i].Kind != view.InFlight[j].Kind {
			return view.InFlight[i].Kind < view.InFlight[j].Kind
		}
		return view.InFlight[i].Vault.Cmp(view.InFlight[j].Vault) < 0
	})
	return view
}

// handleHealth reports liveness, runtime figures and database reachability.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	database := "disabled"
	status, statusCode := "OK", http.StatusOK
	if ws.opts.DatabaseEnabled {
		database = "healthy"
		if err := state.TestDBConnection(); err != nil {
			ws.log.Warn().Err(err).Msg("Database health check failed")
			database = "unreachable"
			status, statusCode = "DEGRADED", http.StatusServiceUnavailable
		}
	}

	st := ws.service.State()
	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "earn-orchestrator",
			"version": "1.0.0",
		},
		"earn_status": map[string]interface{}{
			"database":          database,
			"account":           ws.service.Account(),
			"operations_active": len(st.InFlight),
			"deposit_error":     st.Flags.DepositError,
		},
	}
	ws.writeJSONResponse(w, statusCode, response)
}

func (ws *WebServer) handleGetState(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.newStateView(ws.service.State()))
}

func (ws *WebServer) handleSetInput(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAmount(r)
	if err != nil {
		ws.writeBodyError(w, err)
		return
	}
	st := ws.service.SetInputAmount(req.Amount)
	ws.writeJSONResponse(w, http.StatusOK, ws.newStateView(st))
}

func (ws *WebServer) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := ws.writeContext(r)
	defer cancel()

	if err := ws.service.Sync(ctx); err != nil {
		ws.writeServiceError(w, err, nil)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vaults":    ws.service.Vaults(),
		"timestamp": time.Now().UTC(),
	})
}

func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	vaults := ws.service.Vaults()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vaults": vaults,
		"count":  len(vaults),
	})
}

func (ws *WebServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	address, ok := ws.vaultAddress(w, r)
	if !ok {
		return
	}
	view, err := ws.service.Vault(address)
	if err != nil {
		ws.writeServiceError(w, err, nil)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, view)
}

func (ws *WebServer) handleGetVaultHistory(w http.ResponseWriter, r *http.Request) {
	address, ok := ws.vaultAddress(w, r)
	if !ok {
		return
	}
	if _, err := ws.service.Vault(address); err != nil {
		ws.writeServiceError(w, err, nil)
		return
	}

	limit := queryLimit(r)
	history, err := ws.recorder.BalanceHistory(r.Context(), address, limit)
	if err != nil {
		ws.log.Error().Err(err).Str("vault", address.Hex()).Msg("Failed to get balance history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve balance history")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
		"limit":   limit,
	})
}

func (ws *WebServer) handleCheckApproval(w http.ResponseWriter, r *http.Request) {
	address, ok := ws.vaultAddress(w, r)
	if !ok {
		return
	}
	req, err := decodeAmount(r)
	if err != nil {
		ws.writeBodyError(w, err)
		return
	}
	status, err := ws.service.CheckApproval(r.Context(), address, req.Amount)
	if err != nil {
		ws.writeServiceError(w, err, nil)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, status)
}

func (ws *WebServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	ws.handleOperation(w, r, ws.service.Approve)
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ws.handleOperation(w, r, ws.service.Withdraw)
}

func (ws *WebServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	ws.handleOperation(w, r, ws.service.Claim)
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAmount(r)
	if err != nil {
		ws.writeBodyError(w, err)
		return
	}
	ws.handleOperation(w, r, func(ctx context.Context, address common.Address) (types.OperationReceipt, error) {
		return ws.service.Deposit(ctx, address, req.Amount)
	})
}

func (ws *WebServer) handlePermit(w http.ResponseWriter, r *http.Request) {
	address, ok := ws.vaultAddress(w, r)
	if !ok {
		return
	}
	req, err := decodeAmount(r)
	if err != nil {
		ws.writeBodyError(w, err)
		return
	}

	ctx, cancel := ws.writeContext(r)
	defer cancel()

	sig, err := ws.service.PermitDeposit(ctx, address, req.Amount)
	if err != nil {
		ws.writeServiceError(w, err, nil)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"signature": newSignatureView(sig),
		"state":     ws.newStateView(ws.service.State()),
	})
}

// handleOperation runs a transaction for the vault in the path and reports its receipt.
func (ws *WebServer) handleOperation(w http.ResponseWriter, r *http.Request, run func(context.Context, common.Address) (types.OperationReceipt, error)) {
	address, ok := ws.vaultAddress(w, r)
	if !ok {
		return
	}

	ctx, cancel := ws.writeContext(r)
	defer cancel()

	rec, err := run(ctx, address)
	if err != nil {
		var extra map[string]interface{}
		if rec.ID != uuid.Nil {
			extra = map[string]interface{}{"receipt": rec}
		}
		ws.writeServiceError(w, err, extra)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"receipt": rec,
		"state":   ws.newStateView(ws.service.State()),
	})
}

func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	ops, err := ws.recorder.RecentOperations(r.Context(), limit)
	if err != nil {
		ws.log.Error().Err(err).Msg("Failed to get recent operations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
		"limit":      limit,
	})
}

func (ws *WebServer) handleGetOperationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ws.recorder.OperationStats(r.Context())
	if err != nil {
		ws.log.Error().Err(err).Msg("Failed to get operation stats")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operation stats")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"stats":     stats,
		"timestamp": time.Now().UTC(),
	})
}

// writeContext detaches a write from the client connection. A broadcast transaction cannot be
// recalled, so its confirmation is awaited even if the caller goes away.
func (ws *WebServer) writeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), ws.opts.TxTimeout)
}

func (ws *WebServer) vaultAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid vault address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (ws *WebServer) writeServiceError(w http.ResponseWriter, err error, extra map[string]interface{}) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		ws.log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	ws.writeErrorResponseWith(w, code, err.Error(), extra)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrNoPermitSignature),
		errors.Is(err, types.ErrPermitMismatch),
		errors.Is(err, types.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, types.ErrSigningDeclined):
		return http.StatusForbidden
	case errors.Is(err, types.ErrSubmissionFailed), errors.Is(err, types.ErrReverted):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrAllowance), errors.Is(err, types.ErrSync):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeAmount reads an optional {"amount": "..."} body. An empty body yields an empty amount.
// A non-empty body must be declared as JSON.
func decodeAmount(r *http.Request) (amountRequest, error) {
	var req amountRequest
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return req, nil
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return amountRequest{}, errUnsupportedMediaType
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return amountRequest{}, errors.New("invalid request body: " + err.Error())
	}
	return req, nil
}

func (ws *WebServer) writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnsupportedMediaType) {
		ws.writeErrorResponse(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
}

func queryLimit(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}
