package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/evmfolio/evmfolio/service/network"
	"github.com/evmfolio/evmfolio/service/wallet"
)

const maxRequestBodySize = 1 << 20 // 1MB - plenty for login payloads

// WalletService is the capability the HTTP layer needs from the wallet
// service. *wallet.Service satisfies it; tests substitute a mock.
type WalletService interface {
	GetWalletInfo(ctx context.Context, address, networkID string) (*wallet.View, error)
	RefreshWalletInfo(ctx context.Context, address, networkID string) (*wallet.View, error)
	GetWalletStats(ctx context.Context, address, networkID string) (*wallet.Stats, error)
	LogWalletView(ctx context.Context, address, ipAddress, userAgent string)
	VerifyLogin(ctx context.Context, message, signature, address string) (bool, error)
	ListNetworks() []network.Info
}

// handleGetWallet returns a handler that serves a wallet view, refreshing
// stale state first. Each read is appended to the view audit trail.
// GET /api/v1/wallets/{address}?network={network}
func handleGetWallet(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		networkID := r.URL.Query().Get("network")

		view, err := svc.GetWalletInfo(r.Context(), address, networkID)
		if err != nil {
			writeServiceError(w, logger, "get wallet", address, err)
			return
		}

		svc.LogWalletView(r.Context(), view.Address, clientIP(r), r.UserAgent())

		writeJSON(w, view, http.StatusOK)
	})
}

// handleRefreshWallet returns a handler that forces a refresh cycle.
// POST /api/v1/wallets/{address}/refresh?network={network}
func handleRefreshWallet(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		networkID := r.URL.Query().Get("network")

		view, err := svc.RefreshWalletInfo(r.Context(), address, networkID)
		if err != nil {
			writeServiceError(w, logger, "refresh wallet", address, err)
			return
		}

		logger.Info("wallet refreshed", "address", view.Address, "network", view.Network)
		writeJSON(w, view, http.StatusOK)
	})
}

// handleGetWalletStats returns a handler that serves ledger aggregates.
// GET /api/v1/wallets/{address}/stats?network={network}
func handleGetWalletStats(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		networkID := r.URL.Query().Get("network")

		stats, err := svc.GetWalletStats(r.Context(), address, networkID)
		if err != nil {
			writeServiceError(w, logger, "get wallet stats", address, err)
			return
		}

		writeJSON(w, stats, http.StatusOK)
	})
}

// handleLogWalletView returns a handler that appends to the view audit
// trail without reading the wallet.
// POST /api/v1/wallets/{address}/views
func handleLogWalletView(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		svc.LogWalletView(r.Context(), address, clientIP(r), r.UserAgent())

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListNetworks returns a handler that lists the supported networks.
// GET /api/v1/networks
func handleListNetworks(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"networks": svc.ListNetworks(),
		}, http.StatusOK)
	})
}

type loginRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// handleVerifyLogin returns a handler that checks an EIP-191 personal-sign
// login attempt.
// POST /api/v1/auth/login
func handleVerifyLogin(svc WalletService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Message == "" || req.Signature == "" || req.Address == "" {
			writeError(w, "message, signature, and address are required", http.StatusBadRequest)
			return
		}

		ok, err := svc.VerifyLogin(r.Context(), req.Message, req.Signature, req.Address)
		if err != nil {
			writeServiceError(w, logger, "verify login", req.Address, err)
			return
		}
		if !ok {
			logger.Info("login rejected", "address", req.Address)
			writeError(w, "signature verification failed", http.StatusUnauthorized)
			return
		}

		logger.Info("login verified", "address", req.Address)
		writeJSON(w, map[string]interface{}{
			"verified": true,
			"address":  req.Address,
		}, http.StatusOK)
	})
}

// writeServiceError maps wallet service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op, address string, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAddress):
		writeError(w, "invalid wallet address", http.StatusBadRequest)
	case errors.Is(err, wallet.ErrNotFound):
		writeError(w, "wallet not found", http.StatusNotFound)
	case errors.Is(err, wallet.ErrUpstreamUnavailable):
		logger.Error("upstream providers unavailable", "op", op, "address", address, "error", err)
		writeError(w, "upstream providers unavailable", http.StatusBadGateway)
	default:
		logger.Error("request failed", "op", op, "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// clientIP extracts the caller's IP, preferring the first X-Forwarded-For
// hop when the service sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
