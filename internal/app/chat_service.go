package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"vectra-insight/internal/index"
	"vectra-insight/internal/model"
)

var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrDuplicateFile    = errors.New("file name already exists in this chat")
	ErrIndexUnavailable = errors.New("document index unavailable")
)

// ChatStore is the durable side of the synchronization protocol. Lookup
// methods return (nil, nil) when the record is absent; mutations on missing
// chats surface gorm.ErrRecordNotFound, and duplicate (chat, file name)
// inserts surface gorm.ErrDuplicatedKey.
type ChatStore interface {
	CreateChat(chat *model.Chat) error
	GetChatForUser(chatID, userID uint) (*model.Chat, error)
	ListFileNames(chatID uint) ([]string, error)
	AddFiles(docs []model.Document) error
	RemoveFiles(chatID uint, fileNames []string) error
	RecordInsights(chatID uint, insights, persona string) error
	ListChatsForUser(userID uint) ([]model.Chat, error)
	DeleteChat(chatID uint) error
}

// IndexGateway is the remote side. Implementations must scope every call by
// chat id and key idempotency on (chat id, file name).
type IndexGateway interface {
	IndexFiles(ctx context.Context, chatID uint, files []index.File) error
	RemoveFiles(ctx context.Context, chatID uint, fileNames []string) error
	Search(ctx context.Context, chatID uint, query string, scoreThreshold float64) ([]index.Fragment, error)
	DeleteChat(ctx context.Context, chatID uint) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.ChatEvent) error
}

// SearchCache holds the most recent search per chat; entries are dropped
// whenever the chat's file set changes.
type SearchCache interface {
	Get(ctx context.Context, chatID uint) (query string, fragments []index.Fragment, hit bool, err error)
	Set(ctx context.Context, chatID uint, query string, fragments []index.Fragment) error
	Delete(ctx context.Context, chatID uint) error
}

type ChatService struct {
	store          ChatStore
	gateway        IndexGateway
	publisher      EventPublisher
	cache          SearchCache
	scoreThreshold float64
}

func NewChatService(
	store ChatStore,
	gateway IndexGateway,
	publisher EventPublisher,
	cache SearchCache,
	scoreThreshold float64,
) *ChatService {
	if scoreThreshold <= 0 {
		scoreThreshold = 0.1
	}
	return &ChatService{
		store:          store,
		gateway:        gateway,
		publisher:      publisher,
		cache:          cache,
		scoreThreshold: scoreThreshold,
	}
}

// UploadFile is one submitted file. Name is the identity used for diffing:
// exact, case-sensitive, no normalization.
type UploadFile struct {
	Name      string
	Content   []byte
	MimeType  string
	PageCount int
}

type SyncFilesInput struct {
	UserID  uint
	ChatID  uint // 0 creates a new chat
	Persona string
	Job     string
	Files   []UploadFile
}

// SyncFiles reconciles the chat's stored file set with the submitted one.
//
// The diff is purely name-based: files present on both sides are untouched
// and cost zero remote calls. Removals and additions each write the store
// first and the remote index second, so a crash between the two legs leaves
// stale remote data rather than a dangling local reference, and a retry of
// the same call converges because the diff recomputes against current local
// state.
func (s *ChatService) SyncFiles(ctx context.Context, input SyncFilesInput) (uint, error) {
	if input.UserID == 0 || len(input.Files) == 0 {
		return 0, ErrInvalidInput
	}

	incoming := make(map[string]struct{}, len(input.Files))
	for _, f := range input.Files {
		if strings.TrimSpace(f.Name) == "" {
			return 0, ErrInvalidInput
		}
		if _, dup := incoming[f.Name]; dup {
			return 0, ErrDuplicateFile
		}
		incoming[f.Name] = struct{}{}
	}

	chat, err := s.resolveChat(input)
	if err != nil {
		return 0, err
	}

	existingNames, err := s.store.ListFileNames(chat.ID)
	if err != nil {
		return 0, err
	}
	existing := make(map[string]struct{}, len(existingNames))
	for _, name := range existingNames {
		existing[name] = struct{}{}
	}

	var toRemove []string
	for _, name := range existingNames {
		if _, keep := incoming[name]; !keep {
			toRemove = append(toRemove, name)
		}
	}
	var toAdd []UploadFile
	for _, f := range input.Files {
		if _, present := existing[f.Name]; !present {
			toAdd = append(toAdd, f)
		}
	}

	if len(toRemove) > 0 {
		if err := s.store.RemoveFiles(chat.ID, toRemove); err != nil {
			return 0, err
		}
		if err := s.gateway.RemoveFiles(ctx, chat.ID, toRemove); err != nil {
			return 0, s.wrapGatewayErr(err)
		}
	}

	if len(toAdd) > 0 {
		docs := make([]model.Document, len(toAdd))
		gatewayFiles := make([]index.File, len(toAdd))
		for i, f := range toAdd {
			docs[i] = model.Document{
				ChatID:    chat.ID,
				FileName:  f.Name,
				Content:   f.Content,
				PageCount: f.PageCount,
			}
			gatewayFiles[i] = index.File{
				Name:     f.Name,
				Content:  f.Content,
				MimeType: f.MimeType,
			}
		}
		if err := s.store.AddFiles(docs); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, ErrDuplicateFile
			}
			return 0, err
		}
		if err := s.gateway.IndexFiles(ctx, chat.ID, gatewayFiles); err != nil {
			return 0, s.wrapGatewayErr(err)
		}
	}

	if len(toRemove) > 0 || len(toAdd) > 0 {
		s.invalidateSearchCache(ctx, chat.ID)
	}
	s.publishEvent(ctx, chat.ID, input.UserID, "sync",
		fmt.Sprintf("added %d, removed %d, unchanged %d",
			len(toAdd), len(toRemove), len(input.Files)-len(toAdd)))

	return chat.ID, nil
}

func (s *ChatService) resolveChat(input SyncFilesInput) (*model.Chat, error) {
	if input.ChatID == 0 {
		chat := &model.Chat{
			UserID:  input.UserID,
			Persona: strings.TrimSpace(input.Persona),
			Job:     strings.TrimSpace(input.Job),
		}
		if err := s.store.CreateChat(chat); err != nil {
			return nil, err
		}
		return chat, nil
	}

	chat, err := s.store.GetChatForUser(input.ChatID, input.UserID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// StartNewChat creates an empty chat for the user.
func (s *ChatService) StartNewChat(userID uint) (*model.Chat, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	chat := &model.Chat{UserID: userID}
	if err := s.store.CreateChat(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

type SearchInput struct {
	UserID         uint
	ChatID         uint
	Query          string
	Persona        string
	ScoreThreshold float64 // 0 uses the configured default
}

// Search queries the chat's index and records the merged fragment text as the
// chat's insights, overwriting whatever a previous search stored. A repeat of
// the chat's most recent query is served from cache without touching the
// remote index.
func (s *ChatService) Search(ctx context.Context, input SearchInput) ([]index.Fragment, error) {
	if input.UserID == 0 || input.ChatID == 0 {
		return nil, ErrInvalidInput
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}

	chat, err := s.store.GetChatForUser(input.ChatID, input.UserID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	threshold := input.ScoreThreshold
	if threshold <= 0 {
		threshold = s.scoreThreshold
	}

	var fragments []index.Fragment
	served := false
	if s.cache != nil {
		if cachedQuery, cached, hit, cacheErr := s.cache.Get(ctx, chat.ID); cacheErr == nil && hit && cachedQuery == query {
			fragments = cached
			served = true
		}
	}
	if !served {
		fragments, err = s.gateway.Search(ctx, chat.ID, query, threshold)
		if err != nil {
			return nil, s.wrapGatewayErr(err)
		}
		if s.cache != nil {
			_ = s.cache.Set(ctx, chat.ID, query, fragments)
		}
	}

	insights := MergeFragments(fragments)
	if err := s.store.RecordInsights(chat.ID, insights, strings.TrimSpace(input.Persona)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	s.publishEvent(ctx, chat.ID, input.UserID, "search",
		fmt.Sprintf("%d fragments for %q", len(fragments), truncateDetail(query, 128)))
	return fragments, nil
}

// ListChats returns the user's chats with attached document metadata; an
// empty slice, not an error, when there are none.
func (s *ChatService) ListChats(userID uint) ([]model.Chat, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.store.ListChatsForUser(userID)
}

// DeleteChat removes the chat and its documents locally, then purges the
// chat's remote index entries. A remote failure after the local delete is
// surfaced; the orphaned vectors are unreachable since the chat id no longer
// resolves.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID uint) error {
	if userID == 0 || chatID == 0 {
		return ErrInvalidInput
	}

	chat, err := s.store.GetChatForUser(chatID, userID)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChatNotFound
	}

	if err := s.store.DeleteChat(chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	s.invalidateSearchCache(ctx, chatID)

	if err := s.gateway.DeleteChat(ctx, chatID); err != nil {
		return s.wrapGatewayErr(err)
	}

	s.publishEvent(ctx, chatID, userID, "delete", "")
	return nil
}

var newlineRuns = regexp.MustCompile(`\n{2,}`)

// MergeFragments joins fragment texts in ranked order with a blank-line
// separator, trimming each and collapsing repeated newlines inside a fragment
// to single newlines. Fragments that are empty after trimming are skipped.
func MergeFragments(fragments []index.Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		parts = append(parts, newlineRuns.ReplaceAllString(text, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func (s *ChatService) wrapGatewayErr(err error) error {
	return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}

func (s *ChatService) invalidateSearchCache(ctx context.Context, chatID uint) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, chatID)
	}
}

func (s *ChatService) publishEvent(ctx context.Context, chatID, userID uint, kind, detail string) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, model.ChatEvent{
		ChatID: chatID,
		UserID: userID,
		Kind:   kind,
		Detail: detail,
	})
}

func truncateDetail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
