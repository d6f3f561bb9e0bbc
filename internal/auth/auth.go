// Package auth provides authenticated HTTP clients for the Google Calendar
// API, either through a stored OAuth token or a service account key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CalendarReadonlyScope is the only scope the sync needs.
const CalendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"

// ErrNoToken is returned when OAuth credentials are configured but no token
// has been stored yet.
var ErrNoToken = errors.New("no OAuth token stored, run the auth command first")

// TokenStore is an interface for saving and loading OAuth tokens.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	mu         sync.Mutex
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	// Check if the token was refreshed by comparing access tokens
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// OAuthConfig builds the installed-app OAuth configuration for Google.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "http://127.0.0.1:8080", // replaced by the callback server's address
		Scopes:       []string{CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// NewOAuthClient returns an HTTP client using the stored token. Refreshed
// tokens are written back to the store. It never prompts; a missing token
// yields ErrNoToken.
func NewOAuthClient(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore) (*http.Client, error) {
	token, err := tokenStore.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return nil, ErrNoToken
	}

	autoSaveSource := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		tokenStore: tokenStore,
		lastToken:  token,
	}
	return oauth2.NewClient(ctx, autoSaveSource), nil
}

// NewServiceAccountClient returns an HTTP client authenticated with a service
// account key. The calendars must be shared with the account's email.
func NewServiceAccountClient(ctx context.Context, keyJSON []byte) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(keyJSON, CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	return conf.Client(ctx), nil
}

// Authorize runs the interactive OAuth flow: it prints the consent URL to out,
// waits for the browser redirect on a local port and stores the token.
func Authorize(ctx context.Context, oauthConfig *oauth2.Config, tokenStore TokenStore, out io.Writer) error {
	state := uuid.NewString()
	redirectURL, codeChan, errorChan, err := startLocalServer(state)
	if err != nil {
		return fmt.Errorf("failed to start local server: %w", err)
	}

	oauthConfig.RedirectURL = redirectURL
	authURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintf(out, "Starting local server on %s\n", redirectURL)
	if redirectURL != "http://127.0.0.1:8080" {
		fmt.Fprintf(out, "Note: Port 8080 was unavailable. Make sure to add %s to your authorized redirect URIs in Google Cloud Console.\n", redirectURL)
	}
	fmt.Fprintln(out, "\nPlease visit the following URL to authorize the application:")
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out, "\nWaiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return fmt.Errorf("failed to receive authorization code: %w", err)
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("authorization timeout: no response received within 5 minutes")
	case <-ctx.Done():
		return ctx.Err()
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := tokenStore.SaveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintln(out, "Authorization successful!")
	return nil
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Returns the redirect URL, a channel for the authorization code, and a channel for errors.
// Uses port 8080 by default, or a random port if 8080 is unavailable.
func startLocalServer(state string) (string, <-chan string, <-chan error, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	var once sync.Once
	finish := func(code string, err error) {
		once.Do(func() {
			if err != nil {
				errorChan <- err
			} else {
				codeChan <- code
			}
			go func() {
				time.Sleep(1 * time.Second)
				server.Shutdown(context.Background())
			}()
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", q.Get("error"))
			finish("", fmt.Errorf("authorization error: %s", q.Get("error")))
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			finish("", fmt.Errorf("state mismatch in OAuth callback"))
		case q.Get("code") == "":
			fmt.Fprintf(w, "<html><body><h1>No authorization code received</h1></body></html>")
			finish("", fmt.Errorf("no authorization code received"))
		default:
			fmt.Fprintf(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			finish(q.Get("code"), nil)
		}
	})
	server.Handler = mux

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			finish("", fmt.Errorf("server error: %w", err))
		}
	}()

	return redirectURL, codeChan, errorChan, nil
}
