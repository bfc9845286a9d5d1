package sessionctl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sandeepkv93/session-auth-core/internal/sessionclient"
	"github.com/sandeepkv93/session-auth-core/internal/tools/common"
	"github.com/sandeepkv93/session-auth-core/internal/tools/loadgen"
	"github.com/sandeepkv93/session-auth-core/internal/tools/ui"
)

var errNotLoggedIn = errors.New("not logged in; run sessionctl login first")

type options struct {
	baseURL   string
	wsURL     string
	statePath string
	timeout   time.Duration
	ci        bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Log in, call and watch an authenticated session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.wsURL, "ws-url", "", "websocket URL (default derived from --base-url)")
	cmd.PersistentFlags().StringVar(&opts.statePath, "state", common.DefaultStatePath(), "session state file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(
		newRegisterCommand(opts),
		newLoginCommand(opts),
		newCallCommand(opts),
		newWatchCommand(opts),
		newLogoutCommand(opts),
		newLoadCommand(opts),
	)
	return cmd
}

func newRegisterCommand(opts *options) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}
			return run(cmd, opts, "register", func(ctx context.Context) ([]string, error) {
				api, session, state := newClient(opts)
				defer session.Close()
				defer state.Bind(session, nil)()
				tokens, err := api.Register(ctx, username, email, password)
				if err != nil {
					return nil, err
				}
				if err := session.Restore(tokens); err != nil {
					return nil, err
				}
				return tokenDetails(tokens, state), nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCommand(opts *options) *cobra.Command {
	var identifier, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}
			return run(cmd, opts, "login", func(ctx context.Context) ([]string, error) {
				_, session, state := newClient(opts)
				defer session.Close()
				defer state.Bind(session, nil)()
				if err := session.Login(ctx, identifier, password); err != nil {
					return nil, err
				}
				tokens, _ := session.Tokens()
				return tokenDetails(tokens, state), nil
			})
		},
	}
	cmd.Flags().StringVar(&identifier, "user", "", "username or email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCallCommand(opts *options) *cobra.Command {
	var method, path, data string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a protected endpoint, refreshing the session when needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				in = json.RawMessage(data)
			}
			return run(cmd, opts, "call "+strings.ToUpper(method)+" "+path, func(ctx context.Context) ([]string, error) {
				api, session, state, err := resumeClient(opts)
				if err != nil {
					return nil, err
				}
				defer session.Close()
				defer state.Bind(session, nil)()

				var out json.RawMessage
				err = session.Do(ctx, func(ctx context.Context, access string) error {
					return api.Call(ctx, access, strings.ToUpper(method), path, in, &out)
				})
				if err != nil {
					return nil, err
				}
				return []string{string(out)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&path, "path", "/api/v1/me", "request path")
	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}

func newWatchCommand(opts *options) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Hold a realtime connection open and print its messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, session, state, err := resumeClient(opts)
			if err != nil {
				return err
			}
			defer session.Close()
			defer state.Bind(session, nil)()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			conn := sessionclient.NewConn(session, opts.realtimeURL(), sessionclient.ConnOptions{})
			done := make(chan error, 1)
			go func() { done <- conn.Run(ctx) }()

			out := cmd.OutOrStdout()
			for msg := range conn.Messages() {
				line := fmt.Sprintf("%s %s %s", msg.TS.Format(time.RFC3339), msg.Type, string(msg.Payload))
				if opts.ci {
					b, _ := json.Marshal(msg)
					line = string(b)
				}
				_, _ = fmt.Fprintln(out, line)
			}
			err = <-done
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 waits for interrupt)")
	return cmd
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored refresh token and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, "logout", func(ctx context.Context) ([]string, error) {
				_, session, state, err := resumeClient(opts)
				if errors.Is(err, errNotLoggedIn) {
					return []string{"no stored session"}, nil
				}
				if err != nil {
					return nil, err
				}
				defer session.Close()
				defer state.Bind(session, nil)()
				logoutErr := session.Logout(ctx)
				// Local state is gone either way; make sure the file is too.
				if err := state.Clear(); err != nil {
					return nil, err
				}
				if logoutErr != nil {
					return []string{"local session cleared"}, logoutErr
				}
				return []string{"session revoked", "state " + state.Path() + " removed"}, nil
			})
		},
	}
}

func newLoadCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive concurrent traffic through one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				cfg.Password = p
			}
			cfg.BaseURL = opts.baseURL
			return run(cmd, opts, "load "+loadgenProfile(cfg.Profile), func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("requests=%d failures=%d refreshes=%d", res.TotalRequests, res.Failures, res.Refreshes),
				}
				for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other"} {
					if n := res.StatusClasses[class]; n > 0 {
						details = append(details, fmt.Sprintf("%s=%d", class, n))
					}
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.Identifier, "user", "", "username or email")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: calls, refresh or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "random seed for the mixed profile")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func loadgenProfile(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return "mixed"
	}
	return p
}

func run(cmd *cobra.Command, opts *options, title string, fn func(context.Context) ([]string, error)) error {
	if opts.ci {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		details, err := fn(ctx)
		common.WriteCIResult(cmd.OutOrStdout(), err == nil, "sessionctl "+title, details, err)
		return err
	}
	_, err := ui.Run(title, func(ctx context.Context) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		return fn(ctx)
	})
	return err
}

func newClient(opts *options) (*sessionclient.API, *sessionclient.Session, *common.StateFile) {
	api := sessionclient.NewAPI(opts.baseURL, nil)
	return api, sessionclient.NewSession(api, sessionclient.Options{}), common.NewStateFile(opts.statePath)
}

// resumeClient restores the stored token pair into a fresh session.
func resumeClient(opts *options) (*sessionclient.API, *sessionclient.Session, *common.StateFile, error) {
	api, session, state := newClient(opts)
	tokens, ok, err := state.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, errNotLoggedIn
	}
	if err := session.Restore(tokens); err != nil {
		return nil, nil, nil, err
	}
	return api, session, state, nil
}

func (o *options) realtimeURL() string {
	if o.wsURL != "" {
		return o.wsURL
	}
	base := strings.TrimSuffix(o.baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func tokenDetails(tokens sessionclient.Tokens, state *common.StateFile) []string {
	return []string{
		"subject=" + tokens.Subject,
		"access expires " + tokens.AccessExpiresAt.Local().Format(time.RFC3339),
		"refresh expires " + tokens.RefreshExpiresAt.Local().Format(time.RFC3339),
		"state " + state.Path(),
	}
}

func promptPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
