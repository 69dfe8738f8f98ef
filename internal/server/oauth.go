package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

// Exchanger trades an authorization code for a token. [*oauth2.Config] satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// CompleteFunc persists a freshly exchanged token. A returned error fails the flow.
type CompleteFunc func(ctx context.Context, token *oauth2.Token) error

// CallbackError describes a rejected callback. StatusCode and Body are set when the token
// endpoint itself refused the exchange.
type CallbackError struct {
	Reason     string
	StatusCode int
	Body       string
	Err        error
}

func (e *CallbackError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CallbackError) Unwrap() []error {
	if e.Err == nil {
		return []error{shared.ErrOAuthCallback}
	}
	return []error{shared.ErrOAuthCallback, e.Err}
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthOption configures an [OAuthHandler].
type OAuthOption func(*OAuthHandler)

// WithCompleteFunc sets the hook run after a successful exchange and before the success page.
func WithCompleteFunc(fn CompleteFunc) OAuthOption {
	return func(h *OAuthHandler) { h.complete = fn }
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(client *http.Client) OAuthOption {
	return func(h *OAuthHandler) { h.client = client }
}

// WithLogger sets the handler logger.
func WithLogger(logger *log.Logger) OAuthOption {
	return func(h *OAuthHandler) { h.logger = logger }
}

// OAuthHandler handles OAuth2 callback requests for authorization code flow.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	exchanger   Exchanger
	state       string
	complete    CompleteFunc
	client      *http.Client
	logger      *log.Logger
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a new OAuth handler for the given exchanger and state token.
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(exchanger Exchanger, state string, opts ...OAuthOption) *OAuthHandler {
	h := &OAuthHandler{
		exchanger:  exchanger,
		state:      state,
		logger:     log.Default(),
		resultChan: make(chan OAuthResult, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP handles the OAuth callback request.
//
// Only the first request is processed; later ones get 400 without touching the result. An error
// parameter, a missing code or a state mismatch fail the flow before any exchange is attempted.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		reason := "authorization denied: " + errParam
		if desc := query.Get("error_description"); desc != "" {
			reason += " - " + desc
		}
		h.fail(w, http.StatusBadRequest, &CallbackError{Reason: reason})
		return
	}

	code := query.Get("code")
	if code == "" {
		h.fail(w, http.StatusBadRequest, &CallbackError{Reason: "missing authorization code"})
		return
	}

	if query.Get("state") != h.state {
		h.fail(w, http.StatusBadRequest, &CallbackError{Reason: "invalid state parameter"})
		return
	}

	ctx := r.Context()
	if h.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)
	}

	token, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		h.fail(w, http.StatusBadGateway, exchangeError(err))
		return
	}

	if token.RefreshToken == "" {
		h.fail(w, http.StatusBadGateway, &CallbackError{Reason: "token response had no refresh token", Err: shared.ErrNoRefreshToken})
		return
	}

	if h.complete != nil {
		if err := h.complete(ctx, token); err != nil {
			h.fail(w, http.StatusInternalServerError, &CallbackError{Reason: "saving credentials failed", Err: err})
			return
		}
	}

	h.logger.Info("authorization code exchanged")
	h.Send(OAuthResult{Token: token})
	renderPage(w, http.StatusOK, successPage)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, err *CallbackError) {
	h.logger.Error("oauth callback failed", "error", err)
	h.Send(OAuthResult{err: err})
	renderPage(w, status, pageData{
		Title:   "Authorization Failed",
		Heading: "Authorization failed",
		Message: err.Error(),
		Color:   "#E22134",
	})
}

// exchangeError extracts the token endpoint status and body when available.
func exchangeError(err error) *CallbackError {
	cbErr := &CallbackError{Reason: "token exchange failed", Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			cbErr.StatusCode = re.Response.StatusCode
		}
		cbErr.Body = string(re.Body)
	}
	return cbErr
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

type pageData struct {
	Title   string
	Heading string
	Message string
	Color   template.CSS
}

var successPage = pageData{
	Title:   "Authorization Successful",
	Heading: "✓ Authorization Successful",
	Message: "Credentials saved. You can close this window and return to the terminal.",
	Color:   "#1DB954",
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem; max-width: 40rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: {{.Color}}; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; word-break: break-word; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Heading}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>
`))

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, data)
}
