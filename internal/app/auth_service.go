package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vectra-insight/internal/model"
	"vectra-insight/internal/pkg/jwtutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmailExists       = errors.New("user with same email already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrGoogleOnlyAccount = errors.New("this account uses google login only")
)

// UserStore is the account persistence boundary. Lookups return (nil, nil)
// when no user matches.
type UserStore interface {
	Create(user *model.User) error
	GetByEmail(email string) (*model.User, error)
	GetByGoogleID(googleID string) (*model.User, error)
	GetByID(id uint) (*model.User, error)
	Update(user *model.User) error
}

type AuthService struct {
	users         UserStore
	chats         ChatStore
	jwtSecret     string
	jwtExpiration time.Duration
}

type SignupInput struct {
	Name        string
	Email       string
	Password    string
	PhoneNumber string
}

type LoginInput struct {
	Email    string
	Password string
}

// AuthResult carries the issued token plus the chat the client should make
// active; signup and every login hand out a fresh chat.
type AuthResult struct {
	Token  string
	User   *model.User
	ChatID uint
}

func NewAuthService(users UserStore, chats ChatStore, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		users:         users,
		chats:         chats,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Signup(input SignupInput) (*AuthResult, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if name == "" || email == "" || password == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	existing, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}
	hashStr := string(hash)

	user := &model.User{
		Email:        email,
		Name:         name,
		PhoneNumber:  strings.TrimSpace(input.PhoneNumber),
		PasswordHash: &hashStr,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}

	return s.issueResult(user)
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.PasswordHash == nil {
		return nil, ErrGoogleOnlyAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	return s.issueResult(user)
}

func (s *AuthService) GetUserByID(id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(id)
}

// issueResult creates a fresh chat for the user and signs a token.
func (s *AuthService) issueResult(user *model.User) (*AuthResult, error) {
	chat := &model.Chat{UserID: user.ID}
	if err := s.chats.CreateChat(chat); err != nil {
		return nil, err
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user, ChatID: chat.ID}, nil
}
