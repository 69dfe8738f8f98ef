package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotify-mcp/internal/shared"
	tu "github.com/desertthunder/spotify-mcp/internal/testing"
)


func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(io.Discard)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stderr {
				t.Error("expected output to default to os.Stderr")
			}
			if runner.httpClient.Timeout != 30*time.Second {
				t.Errorf("expected 30s client timeout, got %s", runner.httpClient.Timeout)
			}
			if _, ok := runner.transport.(*mcp.StdioTransport); !ok {
				t.Errorf("expected stdio transport, got %T", runner.transport)
			}
		})
	})

	t.Run("Setup", func(t *testing.T) {
		t.Run("requires client credentials", func(t *testing.T) {
			listened := false
			runner := NewRunner(RunnerOpts{
				Config: shared.DefaultConfig(),
				Logger: shared.NewLogger(io.Discard),
				Output: io.Discard,
				Listen: func(string, string) (net.Listener, error) {
					listened = true
					return nil, errors.New("unexpected")
				},
			})

			if err := runner.Setup(context.Background()); !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
			if listened {
				t.Error("expected no listener to be opened")
			}
		})

		t.Run("persists refresh token", func(t *testing.T) {
			env := newSetupEnv(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`)
			runner := env.runner(t, func(authURL string) string {
				return "code=abc&state=" + stateOf(t, authURL)
			})

			if err := runner.Setup(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if env.exchanges.Load() != 1 {
				t.Errorf("expected 1 token request, got %d", env.exchanges.Load())
			}

			content := tu.MustReadFile(t, env.envFile)
			for _, want := range []string{`SPOTIFY_CLIENT_ID="cid"`, `SPOTIFY_CLIENT_SECRET="csecret"`, `SPOTIFY_REFRESH_TOKEN="rt"`} {
				if !strings.Contains(content, want) {
					t.Errorf("expected %s in env file, got %q", want, content)
				}
			}
			if got := tu.MustReadFile(t, env.gitignore); got != ".env\n" {
				t.Errorf("expected .env in gitignore, got %q", got)
			}
			if !strings.Contains(env.output.String(), "Authorization successful") {
				t.Errorf("expected success message, got %q", env.output.String())
			}
		})

		t.Run("auth url carries client, scopes and state", func(t *testing.T) {
			env := newSetupEnv(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","refresh_token":"rt"}`)
			var seen *url.URL
			runner := env.runner(t, func(authURL string) string {
				seen, _ = url.Parse(authURL)
				return "code=abc&state=" + stateOf(t, authURL)
			})

			if err := runner.Setup(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			q := seen.Query()
			if q.Get("client_id") != "cid" || q.Get("response_type") != "code" {
				t.Errorf("unexpected auth query %v", q)
			}
			if q.Get("scope") != "user-top-read playlist-modify-public playlist-modify-private playlist-read-private" {
				t.Errorf("unexpected scope %q", q.Get("scope"))
			}
			if len(q.Get("state")) != 32 {
				t.Errorf("expected 32 character state, got %q", q.Get("state"))
			}
		})

		t.Run("state mismatch saves nothing", func(t *testing.T) {
			env := newSetupEnv(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","refresh_token":"rt"}`)
			runner := env.runner(t, func(string) string {
				return "code=abc&state=forged"
			})

			err := runner.Setup(context.Background())
			if !errors.Is(err, shared.ErrOAuthCallback) {
				t.Fatalf("expected ErrOAuthCallback, got %v", err)
			}
			if env.exchanges.Load() != 0 {
				t.Errorf("expected no token request, got %d", env.exchanges.Load())
			}
			if _, statErr := os.Stat(env.envFile); !os.IsNotExist(statErr) {
				t.Errorf("expected no env file, got %v", statErr)
			}
		})

		t.Run("rejected exchange", func(t *testing.T) {
			env := newSetupEnv(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
			runner := env.runner(t, func(authURL string) string {
				return "code=abc&state=" + stateOf(t, authURL)
			})

			err := runner.Setup(context.Background())
			if !errors.Is(err, shared.ErrOAuthCallback) {
				t.Fatalf("expected ErrOAuthCallback, got %v", err)
			}
			if !strings.Contains(err.Error(), "invalid_grant") {
				t.Errorf("expected upstream body in error, got %v", err)
			}
		})
	})

	t.Run("Serve", func(t *testing.T) {
		var apiCalls atomic.Int32
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer static" {
				t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"tracks":{"items":[]}}`)
		}))
		defer api.Close()

		config := shared.DefaultConfig()
		config.API.BaseURL = api.URL
		config.Spotify.AccessToken = "static"

		clientTransport, serverTransport := mcp.NewInMemoryTransports()
		runner := NewRunner(RunnerOpts{
			Config:    config,
			Logger:    shared.NewLogger(io.Discard),
			Transport: serverTransport,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- runner.Serve(ctx) }()

		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
		cs, err := client.Connect(context.Background(), clientTransport, nil)
		if err != nil {
			cancel()
			t.Fatalf("client connect: %v", err)
		}
		defer cs.Close()

		res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "search_tracks",
			Arguments: map[string]any{"q": "nothing"},
		})
		if err != nil {
			t.Fatalf("call tool: %v", err)
		}
		text, ok := res.Content[0].(*mcp.TextContent)
		if !ok || text.Text != "No tracks found. Try a different query or filters." {
			t.Errorf("unexpected result %+v", res.Content)
		}
		if apiCalls.Load() != 1 {
			t.Errorf("expected 1 API call, got %d", apiCalls.Load())
		}

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not stop after cancellation")
		}
	})
}

type setupEnv struct {
	tokenURL  string
	exchanges *atomic.Int32
	envFile   string
	gitignore string
	output    *bytes.Buffer
}

func newSetupEnv(t *testing.T, status int, body string) *setupEnv {
	t.Helper()
	exchanges := &atomic.Int32{}
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token" {
			http.NotFound(w, r)
			return
		}
		exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(accounts.Close)

	dir := t.TempDir()
	return &setupEnv{
		tokenURL:  accounts.URL,
		exchanges: exchanges,
		envFile:   filepath.Join(dir, ".env"),
		gitignore: filepath.Join(dir, ".gitignore"),
		output:    &bytes.Buffer{},
	}
}

// runner builds a Runner whose browser opener fires the callback returned by query.
func (e *setupEnv) runner(t *testing.T, query func(authURL string) string) *Runner {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	config := shared.DefaultConfig()
	config.Spotify.ClientID = "cid"
	config.Spotify.ClientSecret = "csecret"
	config.Spotify.RedirectURI = base + "/callback"
	config.API.AccountsURL = e.tokenURL
	config.Setup.EnvFile = e.envFile
	config.Setup.Gitignore = e.gitignore
	config.Setup.Timeout = 5 * time.Second

	return NewRunner(RunnerOpts{
		Config: config,
		Logger: shared.NewLogger(io.Discard),
		Output: e.output,
		Listen: func(string, string) (net.Listener, error) { return ln, nil },
		OpenURL: func(authURL string) error {
			target := base + "/callback?" + query(authURL)
			go func() {
				resp, err := http.Get(target)
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		},
	})
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return u.Query().Get("state")
}

func TestLoadConfig(t *testing.T) {
	run := func(t *testing.T, args []string, environ []string) (*shared.Config, error) {
		t.Helper()
		var config *shared.Config
		var loadErr error
		cmd := rootCommand(func(_ context.Context, cmd *cli.Command) error {
			config, loadErr = loadConfig(cmd, func() []string { return environ })
			return nil
		})
		if err := cmd.Run(context.Background(), append([]string{appName}, args...)); err != nil {
			t.Fatalf("command failed: %v", err)
		}
		return config, loadErr
	}

	noEnvFile := filepath.Join(t.TempDir(), "missing.env")

	t.Run("defaults", func(t *testing.T) {
		config, err := run(t, []string{"--env-file", noEnvFile}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if config.Server.Port != 8888 || config.Log.Level != "info" {
			t.Errorf("unexpected defaults %+v", config)
		}
	})

	t.Run("flags override environment", func(t *testing.T) {
		config, err := run(t,
			[]string{"--env-file", noEnvFile, "--log-level", "debug", "--server--port", "9999", "--setup--storage", "keyring"},
			[]string{"SPOTIFY_MCP_SERVER__PORT=7777", "SPOTIFY_CLIENT_ID=from-env"},
		)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if config.Log.Level != "debug" {
			t.Errorf("expected debug, got %s", config.Log.Level)
		}
		if config.Server.Port != 9999 {
			t.Errorf("expected 9999, got %d", config.Server.Port)
		}
		if config.Setup.Storage != "keyring" {
			t.Errorf("expected keyring, got %s", config.Setup.Storage)
		}
		if config.Spotify.ClientID != "from-env" {
			t.Errorf("expected client id from env, got %s", config.Spotify.ClientID)
		}
	})

	t.Run("setup timeout flag", func(t *testing.T) {
		config, err := run(t, []string{"--env-file", noEnvFile, "--setup--timeout", "90s"}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if config.Setup.Timeout != 90*time.Second {
			t.Errorf("expected 90s, got %s", config.Setup.Timeout)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		if _, err := run(t, []string{"--env-file", noEnvFile, "--log-level", "loud"}, nil); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestFlagKey(t *testing.T) {
	tc := []struct {
		name string
		want string
	}{
		{name: "log-level", want: "log.level"},
		{name: "server--host", want: "server.host"},
		{name: "setup--env-file", want: "setup.env_file"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := flagKey(tt.name); got != tt.want {
				t.Errorf("flagKey(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
