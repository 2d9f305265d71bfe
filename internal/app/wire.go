package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"relaychat/internal/client"
	"relaychat/internal/config"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/services/transfer"
	"relaychat/internal/store"
)

// Wire bundles the session and the services built on it.
type Wire struct {
	Client    *client.Client
	Transfers *transfer.Manager
	Downloads *store.DownloadFileStore
}

// NewWire connects and constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg *config.Client, backend *log.Backend) (*Wire, error) {
	cl, err := Dial(ctx, cfg, backend)
	if err != nil {
		return nil, err
	}
	downloads := store.NewDownloadFileStore(cfg.DownloadDir)
	return &Wire{
		Client:    cl,
		Transfers: transfer.New(cl, downloads, backend.GetLogger("transfer"), cfg.ChunkSize),
		Downloads: downloads,
	}, nil
}

// Close leaves the chat, then stops uploads. Once the client is closed no
// further acks can reach the transfer manager.
func (w *Wire) Close() error {
	err := w.Client.Close()
	w.Transfers.Halt()
	return err
}

// Dial connects to the relay, retrying transport failures with exponential
// backoff until cfg.ConnectTimeout. A handshake refusal is not retried.
func Dial(ctx context.Context, cfg *config.Client, backend *log.Backend) (*client.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	l := backend.GetLogger("client")

	var cl *client.Client
	op := func() error {
		c, err := client.Connect(ctx, client.Options{
			Addr:     cfg.Addr(),
			Username: domain.Username(cfg.Username),
			AvatarID: cfg.AvatarID,
			Log:      l,
		})
		if err != nil {
			var he *client.HandshakeError
			if errors.As(err, &he) {
				return backoff.Permanent(err)
			}
			return err
		}
		cl = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	notify := func(err error, next time.Duration) {
		l.Warningf("connect to %s failed: %v (retrying in %v)", cfg.Addr(), err, next.Round(time.Millisecond))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return cl, nil
}
