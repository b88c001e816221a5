package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/hostctl/internal/hostconfig"
	"github.com/cuemby/hostctl/internal/obslog"
	"github.com/cuemby/hostctl/internal/obsmetrics"
	"github.com/cuemby/hostctl/internal/repotest"
	"github.com/cuemby/hostctl/pkg/convergence"
	"github.com/cuemby/hostctl/pkg/hostadmin/containerdadmin"
	"github.com/cuemby/hostctl/pkg/orchestratorref"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run or inspect a host agent's convergence loop",
}

var agentServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the convergence loop against the reference containerd/bbolt adapters until signaled",
	RunE:  runAgentServe,
}

var agentDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Print getDebug() from a running agent's debug endpoint",
	RunE:  runAgentDebug,
}

func init() {
	agentServeCmd.Flags().String("config", "", "Path to a hostctl agent config YAML file")
	agentDebugCmd.Flags().String("addr", "http://localhost:9090", "Base address of a running agent's debug endpoint")

	agentCmd.AddCommand(agentServeCmd)
	agentCmd.AddCommand(agentDebugCmd)
}

func runAgentServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := hostconfig.Load(configPath)
	if err != nil {
		return err
	}

	logger := obslog.WithHost(cfg.Host)

	dbDir := cfg.RepositoryDBPath
	if dbDir == "" {
		dbDir = "."
	}
	repo, err := repotest.Open(dbDir)
	if err != nil {
		return fmt.Errorf("hostctl: open repository fixture: %w", err)
	}
	defer repo.Close()

	admin, err := containerdadmin.New(cfg.ContainerdSocket, logger)
	if err != nil {
		return fmt.Errorf("hostctl: connect node admin: %w", err)
	}

	loop := convergence.New(convergence.Config{
		Host:           cfg.Host,
		NodeRepository: repo,
		Orchestrator:   orchestratorref.New(),
		NodeAdmin:      admin,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", obsmetrics.Handler())
	mux.HandleFunc("/debug", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loop.GetDebug())
	})
	server := &http.Server{Addr: cfg.DebugAddr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug/metrics server stopped")
		}
	}()

	if err := loop.Start(cfg.TickInterval); err != nil {
		return err
	}
	loop.SetWantedState(convergence.StateResumed)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)

	return loop.Stop()
}

func runAgentDebug(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	resp, err := http.Get(addr + "/debug")
	if err != nil {
		return fmt.Errorf("hostctl: fetch debug endpoint: %w", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("hostctl: decode debug payload: %w", err)
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
