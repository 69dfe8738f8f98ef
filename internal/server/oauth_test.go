package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

type tokenEndpoint struct {
	*httptest.Server
	calls atomic.Int32

	mu   sync.Mutex
	form url.Values
	auth string
}

func newTokenEndpoint(t *testing.T, status int, body string) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{}
	te.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.calls.Add(1)
		r.ParseForm()

		te.mu.Lock()
		te.form = r.PostForm
		te.auth = r.Header.Get("Authorization")
		te.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(te.Close)
	return te
}

func oauthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURL:  "http://127.0.0.1:8888/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

const okToken = `{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`

func callback(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/callback?"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOAuthHandler(t *testing.T) {
	t.Run("valid callback exchanges once", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		var saved *oauth2.Token
		h := NewOAuthHandler(oauthConfig(te.URL), "state-1", WithCompleteFunc(func(_ context.Context, tok *oauth2.Token) error {
			saved = tok
			return nil
		}))

		rec := callback(t, h, "code=abc&state=state-1")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "Authorization Successful") {
			t.Errorf("expected success page, got %s", rec.Body.String())
		}
		if te.calls.Load() != 1 {
			t.Errorf("expected 1 exchange, got %d", te.calls.Load())
		}
		if saved == nil || saved.RefreshToken != "rt" {
			t.Errorf("expected persisted refresh token rt, got %+v", saved)
		}

		result := <-h.Result()
		if result.Error() != nil || result.Token.RefreshToken != "rt" {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("exchange request shape", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")

		callback(t, h, "code=abc&state=s")

		te.mu.Lock()
		defer te.mu.Unlock()
		if te.auth != "" {
			t.Errorf("expected no Authorization header, got %q", te.auth)
		}
		want := map[string]string{
			"grant_type":    "authorization_code",
			"code":          "abc",
			"redirect_uri":  "http://127.0.0.1:8888/callback",
			"client_id":     "cid",
			"client_secret": "csecret",
		}
		for k, v := range want {
			if got := te.form.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
	})

	t.Run("rejected before exchange", func(t *testing.T) {
		tc := []struct {
			name  string
			query string
		}{
			{name: "state mismatch", query: "code=abc&state=wrong"},
			{name: "missing state", query: "code=abc"},
			{name: "missing code", query: "state=s"},
			{name: "error param", query: "error=access_denied&state=s"},
			{name: "error param with code", query: "error=access_denied&code=abc&state=s"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				te := newTokenEndpoint(t, http.StatusOK, okToken)
				completed := false
				h := NewOAuthHandler(oauthConfig(te.URL), "s", WithCompleteFunc(func(context.Context, *oauth2.Token) error {
					completed = true
					return nil
				}))

				rec := callback(t, h, tt.query)

				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rec.Code)
				}
				if te.calls.Load() != 0 {
					t.Errorf("expected no exchange, got %d", te.calls.Load())
				}
				if completed {
					t.Error("expected complete hook not to run")
				}

				result := <-h.Result()
				if !errors.Is(result.Error(), shared.ErrOAuthCallback) {
					t.Errorf("expected ErrOAuthCallback, got %v", result.Error())
				}
			})
		}
	})

	t.Run("error description is escaped", func(t *testing.T) {
		h := NewOAuthHandler(oauthConfig("http://unused"), "s")

		rec := callback(t, h, "error=x&error_description="+url.QueryEscape("<script>alert(1)</script>"))

		if strings.Contains(rec.Body.String(), "<script>") {
			t.Errorf("expected escaped output, got %s", rec.Body.String())
		}
	})

	t.Run("exchange failure reports status and body", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid authorization code"}`)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")

		rec := callback(t, h, "code=bad&state=s")

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}

		result := <-h.Result()
		var cbErr *CallbackError
		if !errors.As(result.Error(), &cbErr) {
			t.Fatalf("expected *CallbackError, got %T", result.Error())
		}
		if cbErr.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", cbErr.StatusCode)
		}
		if !strings.Contains(cbErr.Body, "invalid_grant") {
			t.Errorf("expected body to mention invalid_grant, got %q", cbErr.Body)
		}
	})

	t.Run("missing refresh token", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer"}`)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")

		callback(t, h, "code=abc&state=s")

		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", result.Error())
		}
	})

	t.Run("persist failure", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		diskErr := errors.New("disk full")
		h := NewOAuthHandler(oauthConfig(te.URL), "s", WithCompleteFunc(func(context.Context, *oauth2.Token) error {
			return diskErr
		}))

		rec := callback(t, h, "code=abc&state=s")

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if result := <-h.Result(); !errors.Is(result.Error(), diskErr) {
			t.Errorf("expected disk error, got %v", result.Error())
		}
	})

	t.Run("second callback rejected", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")

		first := callback(t, h, "code=abc&state=s")
		second := callback(t, h, "code=abc&state=s")

		if first.Code != http.StatusOK {
			t.Errorf("expected first callback 200, got %d", first.Code)
		}
		if second.Code != http.StatusBadRequest {
			t.Errorf("expected second callback 400, got %d", second.Code)
		}
		if te.calls.Load() != 1 {
			t.Errorf("expected 1 exchange, got %d", te.calls.Load())
		}
	})

	t.Run("custom http client", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		var used atomic.Bool
		client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			used.Store(true)
			return http.DefaultTransport.RoundTrip(r)
		})}
		h := NewOAuthHandler(oauthConfig(te.URL), "s", WithHTTPClient(client))

		callback(t, h, "code=abc&state=s")

		if !used.Load() {
			t.Error("expected the injected client to perform the exchange")
		}
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestCallbackServer(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown paths do not consume the callback", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")
		ln := listen(t)
		base := "http://" + ln.Addr().String()

		type outcome struct {
			token *oauth2.Token
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			tok, err := NewCallbackServer(h, 5*time.Second, nil).Serve(ctx, ln)
			done <- outcome{tok, err}
		}()

		resp, err := http.Get(base + "/favicon.ico")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}

		resp, err = http.Get(base + "/callback?code=abc&state=s")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		got := <-done
		if got.err != nil {
			t.Fatalf("expected no error, got %v", got.err)
		}
		if got.token.RefreshToken != "rt" {
			t.Errorf("expected refresh token rt, got %s", got.token.RefreshToken)
		}
	})

	t.Run("state mismatch ends the flow without exchange", func(t *testing.T) {
		te := newTokenEndpoint(t, http.StatusOK, okToken)
		h := NewOAuthHandler(oauthConfig(te.URL), "s")
		ln := listen(t)

		done := make(chan error, 1)
		go func() {
			_, err := NewCallbackServer(h, 5*time.Second, nil).Serve(ctx, ln)
			done <- err
		}()

		resp, err := http.Get("http://" + ln.Addr().String() + "/callback?code=abc&state=evil")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		if err := <-done; !errors.Is(err, shared.ErrOAuthCallback) {
			t.Errorf("expected ErrOAuthCallback, got %v", err)
		}
		if te.calls.Load() != 0 {
			t.Errorf("expected no exchange, got %d", te.calls.Load())
		}
	})

	t.Run("timeout", func(t *testing.T) {
		h := NewOAuthHandler(oauthConfig("http://unused"), "s")

		_, err := NewCallbackServer(h, 20*time.Millisecond, nil).Serve(ctx, listen(t))
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		h := NewOAuthHandler(oauthConfig("http://unused"), "s")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewCallbackServer(h, time.Minute, nil).Serve(cctx, listen(t))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestBasicRouter(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(mw("first"), mw("second"))
	router.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("middleware order", func(t *testing.T) {
		order = nil
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("unexpected middleware order %v", order)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
