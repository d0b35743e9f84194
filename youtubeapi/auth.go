package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livewatch/crypto"
	"github.com/onnwee/livewatch/statefile"
)

// Scopes needed to read and post live chat.
var Scopes = []string{"https://www.googleapis.com/auth/youtube.force-ssl"}

// ErrNoToken is returned when a credential set has no token file. Tokens are
// created by the external consent flow, not by this service.
var ErrNoToken = errors.New("no youtube token stored")

// TokenStore persists one OAuth token per credential set.
type TokenStore interface {
	Load(id string) (*oauth2.Token, error)
	Save(id string, tok *oauth2.Token) error
}

// FileTokenStore keeps tokens in <Dir>/<id>.token.json, sealed with Enc when set.
type FileTokenStore struct {
	Dir string
	Enc crypto.Encryptor
}

// Path returns the token file for a credential set.
func (s *FileTokenStore) Path(id string) string {
	return filepath.Join(s.Dir, id+".token.json")
}

func (s *FileTokenStore) Load(id string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credential %s: %w", id, ErrNoToken)
		}
		return nil, fmt.Errorf("read token %s: %w", id, err)
	}
	plain, err := crypto.Open(s.Enc, data)
	if err != nil {
		return nil, fmt.Errorf("open token %s: %w", id, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", id, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("credential %s: %w", id, ErrNoToken)
	}
	return &tok, nil
}

func (s *FileTokenStore) Save(id string, tok *oauth2.Token) error {
	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", id, err)
	}
	data, err := crypto.Seal(s.Enc, plain)
	if err != nil {
		return fmt.Errorf("seal token %s: %w", id, err)
	}
	return statefile.WriteFile(s.Path(id), data, 0o600)
}

// Auth builds authorized clients for credential sets sharing one OAuth app.
type Auth struct {
	oauth *oauth2.Config
	store TokenStore
}

func NewAuth(clientID, clientSecret string, store TokenStore) *Auth {
	return &Auth{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		store: store,
	}
}

// Client returns a Client for credential id. Refreshed tokens are written back
// to the store so a restart does not need a fresh refresh round-trip.
func (a *Auth) Client(ctx context.Context, id string, opts ...option.ClientOption) (*Service, error) {
	tok, err := a.store.Load(id)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		id:    id,
		store: a.store,
		base:  a.oauth.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}
	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service %s: %w", id, err)
	}
	return NewService(svc), nil
}

// persistingSource saves every newly minted access token.
type persistingSource struct {
	id    string
	store TokenStore
	base  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(p.id, tok); err != nil {
			slog.Warn("token persist failed", slog.String("credential", p.id), slog.Any("err", err), slog.String("component", "youtubeapi"))
		} else {
			slog.Info("token refreshed", slog.String("credential", p.id), slog.String("component", "youtubeapi"))
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
