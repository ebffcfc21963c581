package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/contract"
	"github.com/hayq-io/hayq-dashboard/internal/session"
	"github.com/hayq-io/hayq-dashboard/internal/store"
	"github.com/hayq-io/hayq-dashboard/internal/txflow"
	"github.com/hayq-io/hayq-dashboard/internal/units"
)

type bindingInfo struct {
	Address      string                                     `json:"address"`
	Name         string                                     `json:"name"`
	Symbol       string                                     `json:"symbol"`
	Decimals     uint8                                      `json:"decimals"`
	Capabilities map[contract.Capability]contract.CapState  `json:"capabilities"`
	ExplorerURL  string                                     `json:"explorerUrl,omitempty"`
}

type statusResponse struct {
	Session        session.State   `json:"session"`
	Binding        *bindingInfo    `json:"binding,omitempty"`
	BindingError   *chainerr.Error `json:"bindingError,omitempty"`
	ClaimAvailable bool            `json:"claimAvailable"`
	TargetChainID  uint64          `json:"targetChainId"`
	NetworkName    string          `json:"networkName"`
}

type balancesResponse struct {
	Account    string `json:"account"`
	Balance    string `json:"balance"`
	Staked     string `json:"staked"`
	Rewards    string `json:"rewards"`
	RawBalance string `json:"rawBalance"`
	RawStaked  string `json:"rawStaked"`
	RawRewards string `json:"rawRewards"`
	Symbol     string `json:"symbol"`
}

type switchNetworkResponse struct {
	Switched bool `json:"switched"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Session:        s.sessions.State(),
		ClaimAvailable: s.txs.ClaimAvailable(),
		TargetChainID:  s.cfg.TargetChainID,
		NetworkName:    s.cfg.NetworkName,
	}
	binding, cerr := s.resolver.Current()
	resp.BindingError = cerr
	if binding != nil {
		meta := binding.Meta()
		resp.Binding = &bindingInfo{
			Address:      binding.Address().Hex(),
			Name:         meta.Name,
			Symbol:       meta.Symbol,
			Decimals:     meta.Decimals,
			Capabilities: binding.Capabilities(),
			ExplorerURL:  s.cfg.ExplorerAddressURL(binding.Address().Hex()),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.sessions.State()
	decimals := uint8(18)
	symbol := "TOKEN"
	if binding, _ := s.resolver.Current(); binding != nil {
		decimals = binding.Decimals()
		symbol = binding.Meta().Symbol
	}

	snap := s.balances.Get(r.Context(), st.AccountAddress())
	writeJSON(w, http.StatusOK, balancesResponse{
		Account:    st.Account,
		Balance:    units.Format(snap.Balance, decimals),
		Staked:     units.Format(snap.Staked, decimals),
		Rewards:    units.Format(snap.Rewards, decimals),
		RawBalance: snap.Balance.String(),
		RawStaked:  snap.Staked.String(),
		RawRewards: snap.Rewards.String(),
		Symbol:     symbol,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.sessions.Connect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Disconnect())
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ok := s.sessions.SwitchNetwork(r.Context())
	writeJSON(w, http.StatusOK, switchNetworkResponse{Switched: ok})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transferRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, chainerr.Validation("body", "malformed request body"))
		return
	}
	ev, err := s.txs.Transfer(r.Context(), req.To, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleAmountAction(w, r, s.txs.Stake)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleAmountAction(w, r, s.txs.Unstake)
}

func (s *Server) handleAmountAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, amount string) (txflow.Event, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req amountRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, chainerr.Validation("body", "malformed request body"))
		return
	}
	ev, err := action(r.Context(), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, err := s.txs.Claim(r.Context())
	writeError(w, err)
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Sample{"samples": s.sampler.History()})
}

func (s *Server) handleMetricsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.sampler.ClearHistory(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Sample{"samples": s.sampler.History()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeError renders a taxonomy error with a status matching its kind.
// Non-taxonomy errors are reported as generic RPC failures.
func writeError(w http.ResponseWriter, err error) {
	var cerr *chainerr.Error
	if !errors.As(err, &cerr) {
		cerr = chainerr.Wrap(chainerr.KindRPCFailure, "internal error", err)
	}
	writeJSON(w, httpStatus(cerr.Kind), map[string]*chainerr.Error{"error": cerr})
}
