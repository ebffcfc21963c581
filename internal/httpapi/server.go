// Package httpapi is the loopback-only surface the dashboard UI talks
// to: session and balance state over JSON, actions over POST, live
// updates over a websocket.
package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/cache"
	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
	"github.com/hayq-io/hayq-dashboard/internal/config"
	"github.com/hayq-io/hayq-dashboard/internal/contract"
	"github.com/hayq-io/hayq-dashboard/internal/metrics"
	"github.com/hayq-io/hayq-dashboard/internal/session"
	"github.com/hayq-io/hayq-dashboard/internal/store"
	"github.com/hayq-io/hayq-dashboard/internal/txflow"
)

type corsPolicy struct {
	allowedOrigins map[string]struct{}
	allowMethods   string
	maxAge         int
}

type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	balances *cache.Cache
	resolver *contract.Resolver
	txs      *txflow.Controller
	sampler  *metrics.Sampler
	log      *zap.Logger

	mux              *http.ServeMux
	uiAllowedOrigins map[string]struct{}
	hub              *hub

	unsubs []func()
}

func NewServer(cfg *config.Config, sessions *session.Manager, balances *cache.Cache, resolver *contract.Resolver, txs *txflow.Controller, sampler *metrics.Sampler, log *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		balances: balances,
		resolver: resolver,
		txs:      txs,
		sampler:  sampler,
		log:      log,
		mux:      http.NewServeMux(),
		hub:      newHub(log),
	}

	s.uiAllowedOrigins = make(map[string]struct{}, len(cfg.UIOrigins))
	for _, o := range cfg.UIOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.uiAllowedOrigins[o] = struct{}{}
	}

	getCors := corsPolicy{allowedOrigins: s.uiAllowedOrigins, allowMethods: "GET,OPTIONS", maxAge: 600}
	postCors := corsPolicy{allowedOrigins: s.uiAllowedOrigins, allowMethods: "POST,OPTIONS", maxAge: 600}

	s.mux.HandleFunc("/healthz", s.withCORS(getCors, s.withLoopbackOnly(s.handleHealth)))
	s.mux.HandleFunc("/status", s.withCORS(getCors, s.withLoopbackOnly(s.handleStatus)))
	s.mux.HandleFunc("/balances", s.withCORS(getCors, s.withLoopbackOnly(s.handleBalances)))
	s.mux.HandleFunc("/metrics/history", s.withCORS(getCors, s.withLoopbackOnly(s.handleMetricsHistory)))

	s.mux.HandleFunc("/wallet/connect", s.withCORS(postCors, s.withLoopbackOnly(s.handleConnect)))
	s.mux.HandleFunc("/wallet/disconnect", s.withCORS(postCors, s.withLoopbackOnly(s.handleDisconnect)))
	s.mux.HandleFunc("/wallet/switchNetwork", s.withCORS(postCors, s.withLoopbackOnly(s.handleSwitchNetwork)))
	s.mux.HandleFunc("/tx/transfer", s.withCORS(postCors, s.withLoopbackOnly(s.handleTransfer)))
	s.mux.HandleFunc("/tx/stake", s.withCORS(postCors, s.withLoopbackOnly(s.handleStake)))
	s.mux.HandleFunc("/tx/unstake", s.withCORS(postCors, s.withLoopbackOnly(s.handleUnstake)))
	s.mux.HandleFunc("/tx/claim", s.withCORS(postCors, s.withLoopbackOnly(s.handleClaim)))
	s.mux.HandleFunc("/metrics/clear", s.withCORS(postCors, s.withLoopbackOnly(s.handleMetricsClear)))

	s.mux.HandleFunc("/ws", s.withLoopbackOnly(s.handleWS))

	// Live updates fan out through the websocket hub.
	s.unsubs = append(s.unsubs,
		sessions.Subscribe(func(st session.State) { s.hub.broadcast("session", st) }),
		txs.Subscribe(func(ev txflow.Event) { s.hub.broadcast("tx", ev) }),
		sampler.Subscribe(func(sample store.Sample) { s.hub.broadcast("sample", sample) }),
	)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close drops event subscriptions and disconnects websocket clients.
func (s *Server) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.hub.closeAll()
}

func (s *Server) withCORS(policy corsPolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if originRaw := r.Header.Get("Origin"); originRaw != "" {
			origin := normalizeOrigin(originRaw)
			if origin == "" {
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}
			if _, ok := policy.allowedOrigins[origin]; !ok {
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if policy.allowMethods != "" {
				w.Header().Set("Access-Control-Allow-Methods", policy.allowMethods)
			}
			if reqHdrs := r.Header.Get("Access-Control-Request-Headers"); reqHdrs != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHdrs)
			}
			if policy.maxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", policy.maxAge))
			}
		}

		// Preflight ends here
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) withLoopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func isLoopbackRequest(r *http.Request) bool {
	h, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip := net.ParseIP(r.RemoteAddr)
		return ip != nil && ip.IsLoopback()
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

// httpStatus maps a taxonomy kind onto a response status. Standing
// conditions and declined prompts are conflicts, bad input is a bad
// request, transport and chain failures are upstream errors.
func httpStatus(kind chainerr.Kind) int {
	switch kind {
	case chainerr.KindValidation, chainerr.KindInsufficientFunds:
		return http.StatusBadRequest
	case chainerr.KindWalletNotFound, chainerr.KindUserRejected, chainerr.KindWrongNetwork,
		chainerr.KindMissingConfiguration, chainerr.KindContractNotDeployed, chainerr.KindMetadataMismatch:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
