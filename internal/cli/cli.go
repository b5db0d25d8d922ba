// Package cli implements the authkit command line tool.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/client"
)

// Commands understood by Run
const (
	CommandStatus   = "status"
	CommandLogin    = "login"
	CommandToken    = "token"
	CommandRenew    = "renew"
	CommandClear    = "clear"
	CommandRevoke   = "revoke"
	CommandUserInfo = "userinfo"
	CommandImport   = "import"
)

var commands = []string{
	CommandStatus, CommandLogin, CommandToken, CommandRenew,
	CommandClear, CommandRevoke, CommandUserInfo, CommandImport,
}

// Config holds the parsed command line.
type Config struct {
	EnvFile string
	Timeout time.Duration
	MinTTL  time.Duration
	Scope   string
	JSON    bool

	Command string
	Args    []string
}

// ParseConfig parses flags and the command name.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{EnvFile: ".env", Timeout: 30 * time.Second}
	fs.StringVar(&cfg.EnvFile, "env", cfg.EnvFile, "dotenv file to load before reading AUTHKIT_* variables")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall deadline for the command")
	fs.DurationVar(&cfg.MinTTL, "min-ttl", 0, "minimum remaining lifetime of the returned access token")
	fs.StringVar(&cfg.Scope, "scope", "", "scope to request; a different scope forces a renew")
	fs.BoolVar(&cfg.JSON, "json", false, "print the full credential bundle as JSON")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: authkit [flags] <%s>\n", strings.Join(commands, "|"))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("missing command")
	}
	cfg.Command, cfg.Args = rest[0], rest[1:]
	for _, c := range commands {
		if c == cfg.Command {
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("unknown command %q", cfg.Command)
}

func (c Config) retrieveOptions() []client.RetrieveOption {
	var opts []client.RetrieveOption
	if c.MinTTL > 0 {
		opts = append(opts, client.WithMinTTL(c.MinTTL))
	}
	if c.Scope != "" {
		opts = append(opts, client.WithScope(c.Scope))
	}
	return opts
}

// Run executes cfg.Command against sdk. in supplies the password for login
// and the token response for import.
func Run(ctx context.Context, cfg Config, sdk *authkit.SDK, in io.Reader, out io.Writer) error {
	if sdk == nil {
		return errors.New("sdk is required")
	}
	m := sdk.Credentials

	switch cfg.Command {
	case CommandStatus:
		return status(sdk, out)

	case CommandLogin:
		if len(cfg.Args) != 1 {
			return errors.New("usage: authkit login <username> (password on stdin)")
		}
		password, err := readLine(in)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		scope := cfg.Scope
		if scope == "" {
			scope = sdk.Config.Scope
		}
		creds, err := sdk.Auth.Login(ctx, cfg.Args[0], password, scope)
		if err != nil {
			return err
		}
		if !m.Store(creds) {
			return errors.New("failed to store credentials")
		}
		if !creds.HasRefreshToken() && !client.ContainsAllScopes(client.ParseScopes(scope), []string{client.ScopeOfflineAccess}) {
			sdk.Logger.Warn().Str("scope", scope).Msg("no refresh token issued; request offline_access to allow renewals")
		}
		return printCredentials(out, creds, cfg.JSON)

	case CommandToken:
		creds, err := m.Credentials(ctx, cfg.retrieveOptions()...)
		if err != nil {
			return err
		}
		return printCredentials(out, creds, cfg.JSON)

	case CommandRenew:
		creds, err := m.Renew(ctx, cfg.retrieveOptions()...)
		if err != nil {
			return err
		}
		return printCredentials(out, creds, cfg.JSON)

	case CommandClear:
		if !m.Clear() {
			return errors.New("failed to clear credentials")
		}
		_, err := fmt.Fprintln(out, "cleared")
		return err

	case CommandRevoke:
		if err := m.Revoke(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "revoked")
		return err

	case CommandUserInfo:
		creds, err := m.Credentials(ctx, cfg.retrieveOptions()...)
		if err != nil {
			return err
		}
		info, err := sdk.Auth.UserInfo(ctx, creds.AccessToken)
		if err != nil {
			return err
		}
		return writeJSON(out, info.Claims)

	case CommandImport:
		creds, err := decodeTokenResponse(in, time.Now())
		if err != nil {
			return err
		}
		if !m.Store(creds) {
			return errors.New("failed to store credentials")
		}
		_, err = fmt.Fprintf(out, "imported credentials expiring %s\n", creds.ExpiresAt.Format(time.RFC3339))
		return err
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

type keyLister interface {
	ListKeys() ([]string, error)
}

func status(sdk *authkit.SDK, out io.Writer) error {
	m := sdk.Credentials
	fmt.Fprintf(out, "domain:    %s\n", sdk.Auth.Domain())
	fmt.Fprintf(out, "store key: %s\n", m.StoreKey())
	fmt.Fprintf(out, "valid:     %t\n", m.HasValid())

	if user, err := m.User(); err == nil {
		fmt.Fprintf(out, "subject:   %s\n", user.Subject)
		if user.Email != "" {
			fmt.Fprintf(out, "email:     %s\n", user.Email)
		}
	}
	if lister, ok := sdk.Storage.(keyLister); ok {
		keys, err := lister.ListKeys()
		if err != nil {
			return fmt.Errorf("list stored keys: %w", err)
		}
		fmt.Fprintf(out, "stored:    %s\n", strings.Join(keys, ", "))
	}
	return nil
}

func printCredentials(out io.Writer, creds *client.Credentials, full bool) error {
	if full {
		return writeJSON(out, creds)
	}
	_, err := fmt.Fprintln(out, creds.AccessToken)
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLine(in io.Reader) (string, error) {
	if in == nil {
		return "", errors.New("no input")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}

// tokenResponse accepts both a raw token endpoint response (expires_in) and a
// bundle previously printed with -json (expires_at).
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	Scope        string    `json:"scope"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func decodeTokenResponse(in io.Reader, now time.Time) (*client.Credentials, error) {
	if in == nil {
		return nil, errors.New("no input")
	}
	var resp tokenResponse
	if err := json.NewDecoder(io.LimitReader(in, 1<<20)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	creds := &client.Credentials{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		Scope:        resp.Scope,
		ExpiresAt:    resp.ExpiresAt,
	}
	if creds.TokenType == "" {
		creds.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		creds.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if creds.ExpiresAt.IsZero() {
		return nil, errors.New("token response has neither expires_in nor expires_at")
	}
	return creds, nil
}
