// Package main implements the fleetgate server that manages remote compute
// nodes through their gateway hosts.
package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fleetgate/internal/config"
	"fleetgate/internal/fleet"
	"fleetgate/internal/remote"
	"fleetgate/internal/store"
)

const (
	// HTTP timeouts.
	readTimeout  = 15 * time.Second
	writeTimeout = 60 * time.Second // remote commands ride on the response
	idleTimeout  = 60 * time.Second

	// Request validation limits.
	maxFieldLength  = 255
	maxRequestBody  = 64 * 1024
	shutdownTimeout = 10 * time.Second

	// Background reconciliation cadence.
	reconcileInterval = 1 * time.Minute
)

var (
	configPath = flag.String("config", "fleetgate.yaml", "Path to YAML configuration")
	dbPath     = flag.String("db", "fleetgate.db", "Path to SQLite machine database")
	port       = flag.String("port", "8080", "Server port")
	apiKey     = flag.String("api-key", "", "API key for authentication (optional but recommended)")
)

type Server struct {
	engine       *fleet.Engine
	machines     store.MachineStore
	instances    []string
	healthMu     sync.RWMutex
	statsmu      sync.RWMutex
	requestCount int64
	errorCount   int64
	healthy      bool
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to load configuration: %v", err)
	}

	db, err := store.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to open machine database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := remote.NewExecutor(remote.NewSSHTransport(), cfg.CommandTimeout(), cfg.RetryAttempts)
	machines := store.NewSQLiteStore(db)
	engine := fleet.NewEngine(
		config.NewResolver(cfg),
		executor,
		machines,
		fleet.NewNodeCache(cfg.CacheTTL()),
		fleet.Options{
			GatewayHTTPPort: cfg.GatewayHTTPPort,
			ProbePorts:      cfg.ProbePorts,
		},
	)

	server := &Server{
		engine:    engine,
		machines:  machines,
		instances: instanceIDs(cfg),
		healthy:   true,
	}

	// Log security configuration
	if *apiKey != "" {
		log.Println("[INFO] API key authentication enabled")
	} else {
		log.Println("[WARN] Running without API key authentication")
	}
	log.Printf("[INFO] Managing %d instance(s), cache TTL %v, command timeout %v",
		len(server.instances), cfg.CacheTTL(), cfg.CommandTimeout())

	// Keep machine statuses fresh even when nobody is polling the API.
	go server.reconcileLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fleet/", server.handleFleet)
	mux.HandleFunc("/api/v1/machines", server.handleMachines)
	mux.HandleFunc("/api/v1/machines/", server.handleMachine)
	mux.HandleFunc("/api/v1/devices/", server.handleDevice)
	mux.HandleFunc("/api/v1/command", server.handleCommand)
	mux.HandleFunc("/health", server.handleHealth)

	srv := &http.Server{
		Addr:           ":" + *port,
		Handler:        loggingMiddleware(mux),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 16, // 64KB max header size
	}

	go func() {
		log.Printf("[INFO] Server starting on port %s", *port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("[INFO] Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server shutdown error: %v", err)
	} else {
		log.Println("[INFO] Server shutdown complete")
	}
}

func instanceIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Instances)+1)
	for id := range cfg.Instances {
		ids = append(ids, id)
	}
	if len(ids) == 0 && cfg.DefaultTarget != nil {
		ids = append(ids, "default")
	}
	return ids
}

// reconcileLoop runs a background reconciliation pass per instance so status
// transitions are recorded regardless of API traffic. Failures degrade the
// health signal instead of stopping the loop.
func (s *Server) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			failed := 0
			for _, id := range s.instances {
				passCtx, passCancel := context.WithTimeout(ctx, reconcileInterval/2)
				if _, err := s.engine.Reconcile(passCtx, id); err != nil {
					log.Printf("[WARN] Background reconcile for %s failed: %v", id, err)
					failed++
				}
				passCancel()
			}
			s.setHealthy(failed < len(s.instances) || len(s.instances) == 0)
		}
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security: Add comprehensive security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		// Log with different levels based on duration and status
		if duration > 5*time.Second {
			log.Printf("[WARN] Slow request: %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		} else {
			log.Printf("[DEBUG] %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		}
	})
}

// Utility methods for tracking server statistics and health.
func (s *Server) incrementRequestCount() {
	s.statsmu.Lock()
	s.requestCount++
	s.statsmu.Unlock()
}

func (s *Server) incrementErrorCount() {
	s.statsmu.Lock()
	s.errorCount++
	s.statsmu.Unlock()
}

func (s *Server) setHealthy(healthy bool) {
	s.healthMu.Lock()
	changed := s.healthy != healthy
	s.healthy = healthy
	s.healthMu.Unlock()

	if !changed {
		return
	}
	if !healthy {
		log.Printf("[WARN] Server health status changed to degraded")
	} else {
		log.Printf("[INFO] Server health status changed to healthy")
	}
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks.
func constantTimeCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authorized checks the API key header if a key is configured.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if *apiKey == "" {
		return true
	}
	// Security: Don't accept API key from query params (exposes in logs)
	if !constantTimeCompare(r.Header.Get("X-API-Key"), *apiKey) {
		s.incrementErrorCount()
		log.Printf("[WARN] Unauthorized request from %s", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}
