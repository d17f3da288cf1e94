package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/danmuck/homelink/internal/client"
	"github.com/danmuck/homelink/internal/config"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func loadConfig(opts *rootOptions) (config.Client, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Client{}, fmt.Errorf("%s: %w", opts.configPath, err)
	}
	return cfg, nil
}

func newClient(cfg config.Client, serviceID string, async client.AsyncChannel) (*client.Client, error) {
	store, err := cfg.SecretStore()
	if err != nil {
		return nil, err
	}
	return client.New(client.Options{
		Address:    cfg.ControlAddr(),
		HostID:     cfg.HostID,
		ServiceID:  serviceID,
		Session:    cfg.SessionConfig(),
		HostSecret: store,
		Async:      async,
	})
}

// connect builds a client and connects it, retrying transport failures
// opts.retries times with backoff.
func connect(ctx context.Context, opts *rootOptions, serviceID string) (*client.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	c, err := newClient(cfg, serviceID, nil)
	if err != nil {
		return nil, err
	}
	if err := connectWithRetry(ctx, c, opts.retries, cfg.SessionConfig().Backoff); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

type connector interface {
	Connect(ctx context.Context) error
}

func connectWithRetry(ctx context.Context, c connector, retries int, backoff session.BackoffConfig) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if attempt > retries || !errors.Is(err, protocol.ErrTransport) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("homelink: connect failed, retrying")
		if err := backoff.Wait(ctx, attempt, rng); err != nil {
			return err
		}
	}
}

// readPassword reads one line from stdin when fromStdin is set and prompts
// without echo otherwise.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("%w: read password from stdin: %w", protocol.ErrValidation, err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: stdin is not a terminal; use --password-stdin", protocol.ErrValidation)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
