package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"vectra-insight/internal/model"
	"vectra-insight/internal/pkg/jwtutil"
)

var ErrGoogleAuth = errors.New("google authentication failed")

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type OAuthService struct {
	users         UserStore
	chats         ChatStore
	conf          *oauth2.Config
	jwtSecret     string
	jwtExpiration time.Duration
}

func NewOAuthService(users UserStore, chats ChatStore, cfg GoogleOAuthConfig, jwtSecret string, jwtExpiration time.Duration) *OAuthService {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
	return &OAuthService{
		users:         users,
		chats:         chats,
		conf:          conf,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// LoginURL returns the Google consent page URL with a random state value.
func (s *OAuthService) LoginURL() (string, string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate oauth state failed: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	return s.conf.AuthCodeURL(state), state, nil
}

// HandleCallback exchanges the authorization code, resolves the Google
// account to a local user (by google id, then by email for linking, else a
// new account), and issues a token plus a fresh chat.
func (s *OAuthService) HandleCallback(ctx context.Context, code string) (*AuthResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrInvalidInput
	}

	token, err := s.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", ErrGoogleAuth, err)
	}

	resp, err := s.conf.Client(ctx, token).Get(googleUserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch user info: %v", ErrGoogleAuth, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read user info: %v", ErrGoogleAuth, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: user info status %d", ErrGoogleAuth, resp.StatusCode)
	}

	var googleUser struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &googleUser); err != nil {
		return nil, fmt.Errorf("%w: parse user info: %v", ErrGoogleAuth, err)
	}
	email := strings.TrimSpace(strings.ToLower(googleUser.Email))
	if email == "" || googleUser.ID == "" {
		return nil, fmt.Errorf("%w: account has no email", ErrGoogleAuth)
	}

	user, err := s.resolveUser(googleUser.ID, email, strings.TrimSpace(googleUser.Name))
	if err != nil {
		return nil, err
	}

	chat := &model.Chat{UserID: user.ID}
	if err := s.chats.CreateChat(chat); err != nil {
		return nil, err
	}

	signed, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: signed, User: user, ChatID: chat.ID}, nil
}

func (s *OAuthService) resolveUser(googleID, email, name string) (*model.User, error) {
	user, err := s.users.GetByGoogleID(googleID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// Not seen before as a Google identity; link by email if the account
	// exists, otherwise it is a Google sign-up. Password stays nil.
	byEmail, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if byEmail != nil {
		byEmail.GoogleID = &googleID
		if byEmail.Name == "" {
			byEmail.Name = name
		}
		if err := s.users.Update(byEmail); err != nil {
			return nil, err
		}
		return byEmail, nil
	}

	user = &model.User{
		Email:    email,
		Name:     name,
		GoogleID: &googleID,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}
