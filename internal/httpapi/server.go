// Package httpapi provides the mining pool's read-only JSON status surface:
// /status, /miner, /miners, /blocks, /payouts, /hashrate-history, /version.
// It never accepts writes; all mutation flows through the Stratum protocol
// and the coinbase-maturity/payout pipeline.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kaspool/core/internal/database/influx"
	"github.com/kaspool/core/internal/database/postgres"
	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/log"
)

// BalanceReader is the narrow read half of pool.BalanceStore this package
// depends on; satisfied by *database.Manager.
type BalanceReader interface {
	Balance(address string) (*big.Int, error)
}

// BlockReader retrieves recent block records for the /blocks endpoint.
type BlockReader interface {
	GetRecentBlocks(ctx context.Context, limit, offset int) ([]*postgres.BlockRecord, error)
}

// PayoutReader retrieves recent payout records for the /payouts endpoint.
type PayoutReader interface {
	GetRecentPayouts(ctx context.Context, limit, offset int) ([]*postgres.PayoutRecord, error)
}

// HashrateHistoryReader retrieves the pool-wide hashrate time series for
// the /hashrate-history endpoint.
type HashrateHistoryReader interface {
	GetPoolHashrateHistory(ctx context.Context, duration time.Duration) ([]influx.HashratePoint, error)
}

// Server is the read-only HTTP status API.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *log.Logger

	ledger    *pool.ShareLedger
	balances  BalanceReader
	blocks    BlockReader
	payouts   PayoutReader
	hashrates HashrateHistoryReader

	version string
}

// New builds a Server wired against the live pool core and persistent
// store. It does not start listening; call Start.
func New(addr string, ledger *pool.ShareLedger, balances BalanceReader, blocks BlockReader, payouts PayoutReader, hashrates HashrateHistoryReader, version string, logger *log.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		listener:  listener,
		logger:    logger.WithComponent("httpapi"),
		ledger:    ledger,
		balances:  balances,
		blocks:    blocks,
		payouts:   payouts,
		hashrates: hashrates,
		version:   version,
	}

	router := httprouter.New()
	router.GET("/status", s.handleStatus)
	router.GET("/miner", s.handleMiner)
	router.GET("/miners", s.handleMiners)
	router.GET("/blocks", s.handleBlocks)
	router.GET("/payouts", s.handlePayouts)
	router.GET("/hashrate-history", s.handleHashrateHistory)
	router.GET("/version", s.handleVersion)

	s.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start serves requests until the listener is closed. It is a blocking
// call; run it in its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("http api listening", "address", s.listener.Addr().String())
	err := s.httpServer.Serve(s.listener)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response headers are already committed; nothing left to do but
		// drop it, same as every handler below.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusResponse is the /status payload.
type statusResponse struct {
	PoolHashrate float64   `json:"pool_hashrate"`
	ActiveMiners int       `json:"active_miners"`
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, statusResponse{
		PoolHashrate: s.ledger.PoolHashrate(),
		ActiveMiners: len(s.ledger.MinerAddresses()),
		Version:      s.version,
		Timestamp:    time.Now(),
	})
}

// minerResponse is the /miner payload.
type minerResponse struct {
	Address       string   `json:"address"`
	BalanceSompi  int64    `json:"balance_sompi"`
	SharesCount   int64    `json:"shares_count"`
	Hashrate      float64  `json:"hashrate"`
	LastActive    time.Time `json:"last_active"`
	Workers       []string `json:"workers"`
}

func (s *Server) handleMiner(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	stats, ok := s.ledger.MinerStatsSnapshot(address)
	if !ok {
		writeError(w, http.StatusNotFound, "miner not found")
		return
	}

	balance, err := s.balances.Balance(address)
	if err != nil {
		s.logger.WithError(err).Error("failed to read balance", "address", address)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}

	workers := make([]string, 0, len(stats.Workers))
	var hashrate float64
	for w := range stats.Workers {
		workers = append(workers, w)
		hashrate += s.ledger.Hashrate(address, w)
	}

	writeJSON(w, http.StatusOK, minerResponse{
		Address:      address,
		BalanceSompi: balance.Int64(),
		SharesCount:  stats.SharesCount,
		Hashrate:     hashrate,
		LastActive:   stats.LastActive,
		Workers:      workers,
	})
}

func (s *Server) handleMiners(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string][]string{"miners": s.ledger.MinerAddresses()})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset := pagingParams(r)

	blocks, err := s.blocks.GetRecentBlocks(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("failed to list blocks")
		writeError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset := pagingParams(r)

	payouts, err := s.payouts.GetRecentPayouts(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("failed to list payouts")
		writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

func (s *Server) handleHashrateHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	duration := 24 * time.Hour
	if raw := r.URL.Query().Get("duration"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			duration = parsed
		}
	}

	points, err := s.hashrates.GetPoolHashrateHistory(r.Context(), duration)
	if err != nil {
		s.logger.WithError(err).Error("failed to read hashrate history")
		writeError(w, http.StatusInternalServerError, "failed to read hashrate history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func pagingParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
