package gauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// tokenServer is a fake OAuth token endpoint plus one protected resource at
// /resource.
type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp map[string]any
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			ts.exchanges.Add(1)
			resp = map[string]any{"access_token": "at-1", "refresh_token": "rt-1", "token_type": "Bearer", "expires_in": 3600}
		case "refresh_token":
			n := ts.refreshes.Add(1)
			resp = map[string]any{"access_token": "refreshed-" + string(rune('0'+n)), "token_type": "Bearer", "expires_in": 3600}
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func tempStore(t *testing.T) TokenStore {
	return TokenStore{Path: filepath.Join(t.TempDir(), "token.json")}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := tempStore(t)

	if _, err := store.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	in := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	if err := store.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != in.AccessToken || out.RefreshToken != in.RefreshToken || !out.Expiry.Equal(in.Expiry) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", out, in)
	}

	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file perm = %o, want 600", perm)
	}
}

func TestTokenStoreRejectsGarbage(t *testing.T) {
	t.Parallel()
	store := tempStore(t)
	if err := os.WriteFile(store.Path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); err == nil || errors.Is(err, ErrNoToken) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := LoadCredentials(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	} else {
		var ce *CredentialError
		if !errors.As(err, &ce) || !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected CredentialError wrapping not-exist, got %v", err)
		}
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"nothing": true}`), 0o600)
	var ce *CredentialError
	if _, err := LoadCredentials(bad); !errors.As(err, &ce) {
		t.Fatalf("expected CredentialError, got %v", err)
	}

	good := filepath.Join(dir, "credentials.json")
	_ = os.WriteFile(good, []byte(`{"installed":{"client_id":"cid","client_secret":"sec",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["urn:ietf:wg:oauth:2.0:oob","http://localhost"]}}`), 0o600)
	cfg, err := LoadCredentials(good)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if cfg.ClientID != "cid" || cfg.RedirectURL != "urn:ietf:wg:oauth:2.0:oob" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != Scopes[0] {
		t.Fatalf("unexpected scopes: %v", cfg.Scopes)
	}
}

func TestAuthorizeInteractive(t *testing.T) {
	ts := newTokenServer(t)
	store := tempStore(t)
	var out bytes.Buffer

	tok, err := Authorize(context.Background(), ts.config(), store, strings.NewReader("good-code\n"), &out)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if tok.AccessToken != "at-1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if !strings.Contains(out.String(), ts.URL+"/auth?") {
		t.Fatalf("consent URL not printed: %q", out.String())
	}
	if !strings.Contains(out.String(), "access_type=offline") {
		t.Fatalf("offline access not requested: %q", out.String())
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("token not persisted: %v", err)
	}
	if saved.RefreshToken != "rt-1" {
		t.Fatalf("unexpected saved token: %+v", saved)
	}
}

func TestAuthorizeUsesValidCachedToken(t *testing.T) {
	ts := newTokenServer(t)
	store := tempStore(t)
	cached := &oauth2.Token{AccessToken: "cached", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := store.Save(cached); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	tok, err := Authorize(context.Background(), ts.config(), store, strings.NewReader(""), &out)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if tok.AccessToken != "cached" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if out.Len() != 0 || ts.exchanges.Load() != 0 || ts.refreshes.Load() != 0 {
		t.Fatalf("cached token should not prompt or call the provider (out=%q)", out.String())
	}
}

func TestAuthorizeRefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t)
	store := tempStore(t)
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(-time.Hour)}
	if err := store.Save(expired); err != nil {
		t.Fatal(err)
	}

	tok, err := Authorize(context.Background(), ts.config(), store, strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if tok.AccessToken != "refreshed-1" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	saved, _ := store.Load()
	if saved == nil || saved.AccessToken != "refreshed-1" {
		t.Fatalf("refreshed token not persisted: %+v", saved)
	}
}

func TestAuthorizeFailures(t *testing.T) {
	ts := newTokenServer(t)

	for name, input := range map[string]string{
		"rejected code": "bad-code\n",
		"empty code":    "\n",
		"no input":      "",
	} {
		t.Run(name, func(t *testing.T) {
			store := tempStore(t)
			_, err := Authorize(context.Background(), ts.config(), store, strings.NewReader(input), &bytes.Buffer{})
			var ae *AuthorizationError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AuthorizationError, got %v", err)
			}
			if _, lerr := store.Load(); !errors.Is(lerr, ErrNoToken) {
				t.Fatalf("nothing should be stored on failure, got %v", lerr)
			}
		})
	}
}

func TestClientPersistsRefreshedToken(t *testing.T) {
	ts := newTokenServer(t)
	store := tempStore(t)
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(-time.Minute)}

	client := Client(context.Background(), ts.config(), expired, store)
	resp, err := client.Get(ts.URL + "/resource")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatalf("refreshed token not saved: %v", err)
	}
	if saved.AccessToken != "refreshed-1" {
		t.Fatalf("unexpected saved token: %+v", saved)
	}

	// The refreshed token is reused; no second refresh.
	resp, err = client.Get(ts.URL + "/resource")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	resp.Body.Close()
	if n := ts.refreshes.Load(); n != 1 {
		t.Fatalf("refreshes = %d, want 1", n)
	}
}
