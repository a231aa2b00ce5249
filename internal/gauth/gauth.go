// Package gauth owns the OAuth2 lifecycle for the Google calendar client:
// reading the installed-app credentials, caching the token on disk, the
// one-time interactive authorization, and persisting refreshed tokens.
package gauth

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	appLog "busylight/internal/log"
)

// Scopes requested by the daemon.
var Scopes = []string{calendar.CalendarReadonlyScope}

// ErrNoToken is returned by TokenStore.Load when no token is cached.
var ErrNoToken = errors.New("no cached token")

// CredentialError means the OAuth client credentials file is missing or
// unusable.
type CredentialError struct {
	Path string
	Err  error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials %s: %v", e.Path, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// AuthorizationError means no usable token could be obtained, including
// through the interactive flow.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// LoadCredentials reads a client secret file ("installed" or "web" app) as
// downloaded from the Google Cloud console.
func LoadCredentials(path string, scopes ...string) (*oauth2.Config, error) {
	if len(scopes) == 0 {
		scopes = Scopes
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialError{Path: path, Err: err}
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, &CredentialError{Path: path, Err: err}
	}
	return cfg, nil
}

// TokenStore persists a single token as JSON.
type TokenStore struct {
	Path string
}

func (s TokenStore) Load() (*oauth2.Token, error) {
	if s.Path == "" {
		return nil, errors.New("token path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

// Save writes the token atomically with 0600 permissions.
func (s TokenStore) Save(tok *oauth2.Token) error {
	if s.Path == "" {
		return errors.New("token path is required")
	}
	if tok == nil {
		return errors.New("token is nil")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".busylight-token-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path)
}

// Authorize returns a usable token. A cached token is used when it is still
// valid or can be refreshed; otherwise the user is sent through the
// authorization-code flow once: the consent URL is written to out and one
// line containing the code is read from in. The new token is saved before
// Authorize returns.
//
// Authorize blocks on in and must run before polling starts.
func Authorize(ctx context.Context, cfg *oauth2.Config, store TokenStore, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	tok, err := store.Load()
	switch {
	case err == nil:
		fresh, rerr := cfg.TokenSource(ctx, tok).Token()
		if rerr == nil {
			if fresh.AccessToken != tok.AccessToken {
				if serr := store.Save(fresh); serr != nil {
					appLog.Error("token save failed", serr, "path", store.Path)
				}
			}
			appLog.Info("using cached token", "path", store.Path, "expiry", fresh.Expiry)
			return fresh, nil
		}
		appLog.Error("cached token rejected; re-authorizing", rerr, "path", store.Path)
	case errors.Is(err, ErrNoToken):
		appLog.Info("no cached token; starting authorization", "path", store.Path)
	default:
		appLog.Error("cached token unreadable; re-authorizing", err, "path", store.Path)
	}

	tok, err = exchangeInteractive(ctx, cfg, in, out)
	if err != nil {
		return nil, &AuthorizationError{Err: err}
	}
	if err := store.Save(tok); err != nil {
		return nil, &AuthorizationError{Err: fmt.Errorf("save token: %w", err)}
	}
	fmt.Fprintln(out, "Token stored to", store.Path)
	return tok, nil
}

func exchangeInteractive(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}
	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintln(out, "Authorize this app by visiting this url:", url)
	fmt.Fprint(out, "Enter the code from that page here: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Client returns an HTTP client authorized with tok. Refreshes happen inside
// the oauth2 transport; each new token is written back to store.
func Client(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, store TokenStore) *http.Client {
	src := &persistingSource{
		base:  cfg.TokenSource(ctx, tok),
		store: store,
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
}

// persistingSource saves every token whose access token differs from the
// previous one.
type persistingSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.Save(tok); err != nil {
			appLog.Error("refreshed token save failed", err, "path", s.store.Path)
		} else {
			appLog.Info("refreshed token saved", "path", s.store.Path, "expiry", tok.Expiry)
		}
	}
	return tok, nil
}
