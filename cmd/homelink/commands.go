package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/homelink/internal/client"
	"github.com/danmuck/homelink/internal/config"
	"github.com/danmuck/homelink/internal/logging"
	"github.com/danmuck/homelink/internal/observability"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	metrics    bool
	retries    int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "homelink",
		Short:         "HomeLink client",
		Long:          "Register hosts and services with a HomeLink server and run commands on them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime("homelink")
			if opts.configPath == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				opts.configPath = p
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.metrics {
				return observability.WriteText(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $HOMELINK_CONFIG or ~/.config/homelink/config.toml)")
	root.PersistentFlags().BoolVar(&opts.metrics, "metrics", false, "print client metrics to stderr on exit")
	root.PersistentFlags().IntVar(&opts.retries, "retries", 0, "extra connect attempts on transport failure")

	root.AddCommand(
		newConfigureCmd(opts),
		newRegisterHostCmd(opts),
		newRegisterServiceCmd(opts),
		newExecCmd(opts),
		newListenCmd(opts),
	)
	return root
}

// ─── configure ───────────────────────────────────────────────────────────────

var configureKeys = []struct{ flag, usage string }{
	{"host-id", "this host's id (max 32 bytes)"},
	{"server-address", "server host name or IP"},
	{"server-port", "control port (alias of --server-control-port)"},
	{"server-control-port", "control port"},
	{"server-data-port", "async notification port"},
	{"host-secret-path", "host secret file"},
	{"connect-timeout", "dial timeout, e.g. 5s"},
	{"io-timeout", "per-attempt I/O timeout, e.g. 5s"},
	{"max-attempts", "I/O attempts per send or receive"},
}

func newConfigureCmd(opts *rootOptions) *cobra.Command {
	var initTemplate, force bool
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Create or edit the client config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initTemplate {
				if err := config.WriteTemplate(opts.configPath, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", opts.configPath)
				return nil
			}
			cfg, err := config.LoadOrDefault(opts.configPath)
			if err != nil {
				return err
			}
			changed := 0
			for _, k := range configureKeys {
				if !cmd.Flags().Changed(k.flag) {
					continue
				}
				v, _ := cmd.Flags().GetString(k.flag)
				if err := cfg.Apply(k.flag, v); err != nil {
					return err
				}
				changed++
			}
			if changed == 0 {
				return printConfig(cmd, cfg)
			}
			if err := cfg.Save(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d key(s) in %s\n", changed, opts.configPath)
			return nil
		},
	}
	for _, k := range configureKeys {
		cmd.Flags().String(k.flag, "", k.usage)
	}
	cmd.Flags().BoolVar(&initTemplate, "init", false, "write a starter config file")
	cmd.Flags().BoolVar(&force, "force", false, "with --init, overwrite an existing file")
	return cmd
}

func printConfig(cmd *cobra.Command, cfg config.Client) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "host_id              %s\n", cfg.HostID)
	fmt.Fprintf(out, "server_address       %s\n", cfg.ServerAddress)
	fmt.Fprintf(out, "server_control_port  %d\n", cfg.ServerControlPort)
	fmt.Fprintf(out, "server_data_port     %d\n", cfg.ServerDataPort)
	fmt.Fprintf(out, "host_secret_path     %s\n", cfg.HostSecretPath)
	fmt.Fprintf(out, "connect_timeout      %s\n", cfg.ConnectTimeout)
	fmt.Fprintf(out, "io_timeout           %s\n", cfg.IOTimeout)
	fmt.Fprintf(out, "max_attempts         %d\n", cfg.MaxAttempts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\nconfig incomplete: %v\n", err)
	}
	return nil
}

// ─── register-host ───────────────────────────────────────────────────────────

func newRegisterHostCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register-host",
		Short: "Register this host with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			defer c.Close()
			status, err := c.RegisterHost()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "register host: %s\n", status)
			return registerResult(status)
		},
	}
}

// ─── register-service ────────────────────────────────────────────────────────

func newRegisterServiceCmd(opts *rootOptions) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "register-service <service-id>",
		Short: "Register a service on this host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceID := args[0]
			if err := protocol.ValidateIdentifier("service id", serviceID); err != nil {
				return err
			}
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			defer c.Close()
			status, err := c.RegisterService(serviceID, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "register service %s: %s\n", serviceID, status)
			return registerResult(status)
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func registerResult(status protocol.RegisterStatus) error {
	switch status {
	case protocol.RegisterSuccess, protocol.RegisterAlreadyExists:
		return nil
	default:
		return fmt.Errorf("%w: registration %s", protocol.ErrProtocol, status)
	}
}

// ─── exec ────────────────────────────────────────────────────────────────────

func newExecCmd(opts *rootOptions) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "exec <service-id> <command...>",
		Short: "Log in to a service, send one command, log out",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceID := args[0]
			text := strings.Join(args[1:], " ")
			if len(text) > protocol.MaxCommandLen {
				return fmt.Errorf("%w: command is %d bytes, max %d", protocol.ErrValidation, len(text), protocol.MaxCommandLen)
			}
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context(), opts, serviceID)
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := c.Login(password)
			if err != nil {
				return err
			}
			if status != protocol.LoginSuccess {
				return fmt.Errorf("%w: login %s", protocol.ErrProtocol, status)
			}
			if err := c.Command(text); err != nil {
				return err
			}
			if err := c.Logout(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent command to %s\n", serviceID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// ─── listen ──────────────────────────────────────────────────────────────────

func newListenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen <directory>",
		Short: "Print async notifications from the data port until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			dataAddr, ok := cfg.DataAddr()
			if !ok {
				return fmt.Errorf("%w: server_data_port is not configured", config.ErrInvalidConfig)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener := client.NewNotificationListener(dataAddr, nil)
			c, err := newClient(cfg, "", listener)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			handler := func(dir string, n protocol.AsyncNotification) {
				fmt.Fprintf(out, "%s\tevent=%d\ttag=%d\n", dir, n.Event, n.Tag)
			}
			if err := c.BeginAsyncListener(ctx, args[0], handler); err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				_ = c.StopAsync()
			}()
			return c.WaitAsync()
		},
	}
}
