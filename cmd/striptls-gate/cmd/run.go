package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/striptls-gate/striptls-gate/internal/adapter/inbound/tcpgw"
	"github.com/striptls-gate/striptls-gate/internal/adapter/outbound/memory"
	"github.com/striptls-gate/striptls-gate/internal/config"
	"github.com/striptls-gate/striptls-gate/internal/domain/audit"
	"github.com/striptls-gate/striptls-gate/internal/domain/dispatch"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
	"github.com/striptls-gate/striptls-gate/pkg/certstore"
)

var (
	flagListen  string
	flagRemote  string
	flagKey     string
	flagVectors string
	flagVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxy against a remote server",
	Long: `Run accepts connections on --listen, pairs each with a freshly dialed
connection to --remote, and audits each connecting client for STARTTLS-class
downgrade vulnerabilities using the vectors named by --vectors.

Every registered vector, listed by its "Protocol.VectorName" catalogue
identifier:
` + vectorCatalogueHelp() + `
Examples:
  striptls-gate run --remote mail.example.com:25
  striptls-gate run --listen 0.0.0.0:2525 --remote mail.example.com:25 --vectors SMTP.StripFromCapabilities,SMTP.StripWithError`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagListen, "listen", "", "address to accept inbound connections on (default: 0.0.0.0:<remote port>)")
	runCmd.Flags().StringVar(&flagRemote, "remote", "", "upstream server address (required)")
	runCmd.Flags().StringVar(&flagKey, "key", "", "PEM file containing both certificate and private key (default: server.pem)")
	runCmd.Flags().StringVar(&flagVectors, "vectors", "", "comma-separated Protocol.VectorName list, or ALL (default: ALL)")
	runCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

func vectorCatalogueHelp() string {
	var b strings.Builder
	for _, v := range vector.All() {
		b.WriteString("  " + vector.FullName(v) + "\n")
	}
	return b.String()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagRemote != "" {
		cfg.Remote = flagRemote
	}
	if flagKey != "" {
		cfg.KeyFile = flagKey
	}
	if flagVectors != "" {
		cfg.Vectors = flagVectors
	}
	if flagVerbose {
		cfg.Verbose = true
	}

	remotePort, err := remotePort(cfg.Remote)
	if err != nil {
		return fmt.Errorf("invalid --remote: %w", err)
	}

	cfg.SetDefaults(remotePort)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := newLogger(cfg.Verbose)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	cert, err := certstore.Load(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	store := memory.NewAuditStore()
	dispatcher := dispatch.New(store)
	registered, err := registerVectors(dispatcher, cfg.Vectors)
	if err != nil {
		return err
	}
	logger.Info("vectors registered", "count", registered)

	srv, err := tcpgw.New(tcpgw.Config{
		ListenAddr: cfg.Listen,
		RemoteAddr: cfg.Remote,
		Cert:       cert,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to construct proxy server: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill, matching the teacher's graceful-shutdown pattern.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger.Info("striptls-gate starting", "version", Version, "listen", cfg.Listen, "remote", cfg.Remote)
	serveErr := srv.Serve(ctx)

	byClient, reportErr := store.ByClient(context.Background())
	if reportErr != nil {
		logger.Warn("failed to read audit report", "error", reportErr)
	} else {
		audit.Render(os.Stdout, byClient)
	}

	if serveErr != nil {
		return serveErr
	}

	// The original implementation increments its exit code on
	// KeyboardInterrupt; ctx.Err() is non-nil only when the signal handler
	// fired, so an orderly programmatic Close() still exits 0.
	if ctx.Err() != nil {
		os.Exit(1)
	}
	return nil
}

func remotePort(remote string) (int, error) {
	_, portStr, err := net.SplitHostPort(remote)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func registerVectors(d *dispatch.Dispatcher, spec string) (int, error) {
	if strings.EqualFold(spec, "ALL") {
		all := vector.All()
		for _, v := range all {
			d.Add(v.Protocol(), v)
		}
		return len(all), nil
	}

	byName := vector.ByFullName()
	names := strings.Split(spec, ",")
	count := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		v, ok := byName[name]
		if !ok {
			return 0, fmt.Errorf("unknown vector %q", name)
		}
		d.Add(v.Protocol(), v)
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("--vectors produced an empty vector list")
	}
	return count, nil
}

func newLogger(verbose bool) *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
