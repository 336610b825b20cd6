// Command vorion runs the governance plane's admin HTTP surface: a
// health check for orchestration probes and a decision endpoint for
// manually exercising the action-execution protocol end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/voriongit/vorion-sub013/pkg/config"
	"github.com/voriongit/vorion-sub013/pkg/contracts"
	"github.com/voriongit/vorion-sub013/pkg/crypto"
	"github.com/voriongit/vorion-sub013/pkg/extensions"
	"github.com/voriongit/vorion-sub013/pkg/orchestrator"
	"github.com/voriongit/vorion-sub013/pkg/proofchain"
	"github.com/voriongit/vorion-sub013/pkg/store"
	"github.com/voriongit/vorion-sub013/pkg/trust"
	"github.com/voriongit/vorion-sub013/pkg/vorionerr"
)

func main() {
	os.Exit(Run())
}

func Run() int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	s, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		log.Fatalf("store migrate: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.KVHost, cfg.KVPort),
		Password: cfg.KVPassword,
		DB:       cfg.KVDB,
	})
	defer redisClient.Close()

	ceiling, err := ceilingResolver("pkg/config/profiles")
	if err != nil {
		logger.Warn("deployment profiles unavailable, trust ceilings unconstrained", "error", err)
		ceiling = nil
	}
	trustEngine := trust.NewEngine(s, ceiling)

	signer, err := crypto.NewSigner([]byte(cfg.SigningSecret), "vorion-primary", cfg.UseECDSAFallback)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	chain := proofchain.NewChain(s, signer)

	validator, err := extensions.NewManifestValidator()
	if err != nil {
		log.Fatalf("manifest validator: %v", err)
	}
	registry := extensions.NewRegistry(validator)

	deployCtx := contracts.DeploymentContext("C_" + strings.ToUpper(cfg.DeploymentContext))
	orch := orchestrator.New(registry, trustEngine, chain, redisClient, contracts.ObservabilityFullAudit, deployCtx)

	srv := newServer(cfg, s, orch)

	go func() {
		logger.Info("vorion admin surface listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.DatabaseDriver == "postgres" {
		return store.NewPostgres(cfg.DatabaseDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	return store.NewSQLite(cfg.DatabaseDSN)
}

// ceilingResolver loads every deployment profile under profilesDir and
// returns a closure the Trust Engine uses to cap a score by deployment
// context.
func ceilingResolver(profilesDir string) (func(contracts.DeploymentContext) int, error) {
	profiles, err := config.LoadAllProfiles(profilesDir)
	if err != nil {
		return nil, err
	}
	ceilings := make(map[contracts.DeploymentContext]int, len(profiles))
	for name, p := range profiles {
		ceilings[contracts.DeploymentContext("C_"+strings.ToUpper(name))] = p.ContextCeiling
	}
	return func(dc contracts.DeploymentContext) int {
		if c, ok := ceilings[dc]; ok {
			return c
		}
		return 1000
	}, nil
}

func newServer(cfg *config.Config, s *store.Store, orch *orchestrator.Orchestrator) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(s))
	mux.HandleFunc("/v1/decide", handleDecide(s, orch))

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func handleHealth(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.GetAgent(ctx, "__healthcheck__"); err != nil {
			vorionerr.WriteError(w, r, vorionerr.Wrap(vorionerr.KindDatabase, "store unreachable", err))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// decideRequest is the manual-testing payload for /v1/decide: look up an
// already-registered agent and run it through the action-execution
// protocol against a no-op side effect, returning the resulting record
// and proof.
type decideRequest struct {
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`
}

func handleDecide(s *store.Store, orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			vorionerr.WriteError(w, r, vorionerr.New(vorionerr.KindValidation, "POST required"))
			return
		}

		var req decideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			vorionerr.WriteValidation(w, r, "malformed JSON body: "+err.Error())
			return
		}
		if req.AgentID == "" || req.ActionType == "" {
			vorionerr.WriteValidation(w, r, "agent_id and action_type are required")
			return
		}

		agent, err := s.GetAgent(r.Context(), req.AgentID)
		if err != nil {
			vorionerr.WriteError(w, r, vorionerr.Wrap(vorionerr.KindDatabase, "looking up agent", err))
			return
		}
		if agent == nil {
			vorionerr.WriteNotFound(w, r, fmt.Sprintf("agent %q not found", req.AgentID))
			return
		}
		if agent.IsRevoked() {
			vorionerr.WriteForbidden(w, r, fmt.Sprintf("agent %q is revoked", req.AgentID))
			return
		}

		actionReq := contracts.ActionRequest{AgentID: agent.AgentID, ActionType: req.ActionType, Params: req.Params}
		outcome, err := orch.ProcessAction(r.Context(), agent, actionReq, func(ctx context.Context, req contracts.ActionRequest) (any, error) {
			return map[string]any{"echo": req.Params, "decided_at": time.Now().UTC(), "trace": uuid.NewString()}, nil
		})
		if err != nil {
			vorionerr.WriteError(w, r, vorionerr.Wrap(vorionerr.KindExternalService, "decision processing failed", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(outcome)
	}
}
