package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"relaychat/internal/config"
	"relaychat/internal/crypto"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
	"relaychat/internal/relay"
	"relaychat/internal/services/serverkey"
	"relaychat/internal/store"
)

const shutdownTimeout = 5 * time.Second

var askPassphrase bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Encrypted chat relay",
		SilenceUsage: true,
		RunE:         runServe,
	}
	config.ServerFlags(root.PersistentFlags())
	root.PersistentFlags().BoolVar(&askPassphrase, "ask-passphrase", false, "read the key file passphrase from the terminal")
	root.AddCommand(fingerprintCmd())
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(cmd.Flags())
	if err != nil {
		return err
	}
	if err := resolvePassphrase(cfg); err != nil {
		return err
	}
	backend, err := log.New(cfg.Log.File, cfg.Log.Level, cfg.Log.Disable)
	if err != nil {
		return err
	}
	defer backend.Close()
	l := backend.GetLogger("main")

	var keys *serverkey.Service
	if cfg.KeyFile != "" {
		keys = serverkey.New(store.NewKeyFileStore(cfg.KeyFile), backend.GetLogger("serverkey"))
	} else {
		keys = serverkey.New(nil, backend.GetLogger("serverkey"))
	}
	key, fp, err := keys.LoadOrGenerate(cfg.KeyPassphrase)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.NewRegistry())
	srv, err := relay.New(key, backend, m)
	if err != nil {
		return err
	}
	if err := srv.Listen(cfg.Listen); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s, key fingerprint %s\n", srv.Addr(), fp)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			l.Noticef("Serving metrics on %s", cfg.MetricsAddr)
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		l.Notice("Shutting down")
		srv.Halt()
		return nil
	})
	return g.Wait()
}

func resolvePassphrase(cfg *config.Server) error {
	if !askPassphrase || cfg.KeyPassphrase != "" {
		return nil
	}
	if cfg.KeyFile == "" {
		return errors.New("--ask-passphrase needs --key-file")
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("--ask-passphrase needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Key file passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	cfg.KeyPassphrase = string(b)
	return nil
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the persisted relay key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.KeyFile == "" {
				return errors.New("no key file configured (use --key-file)")
			}
			if err := resolvePassphrase(cfg); err != nil {
				return err
			}
			key, ok, err := store.NewKeyFileStore(cfg.KeyFile).LoadServerKey(cfg.KeyPassphrase)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no key at %s", cfg.KeyFile)
			}
			fp, err := crypto.PublicKeyFingerprint(&key.PublicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fp)
			return nil
		},
	}
}
