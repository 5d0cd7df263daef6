package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vectra-insight/internal/index"
	"vectra-insight/internal/model"
)

// fakeChatStore keeps chats and document names in memory and counts calls so
// tests can assert how much local work a sync performed.
type fakeChatStore struct {
	nextChatID uint
	chats      map[uint]*model.Chat
	files      map[uint]map[string]bool

	addCalls    int
	removeCalls int

	addErr    error
	removeErr error
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		nextChatID: 1,
		chats:      make(map[uint]*model.Chat),
		files:      make(map[uint]map[string]bool),
	}
}

func (f *fakeChatStore) CreateChat(chat *model.Chat) error {
	chat.ID = f.nextChatID
	f.nextChatID++
	f.chats[chat.ID] = chat
	f.files[chat.ID] = make(map[string]bool)
	return nil
}

func (f *fakeChatStore) GetChatForUser(chatID, userID uint) (*model.Chat, error) {
	chat, ok := f.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, nil
	}
	return chat, nil
}

func (f *fakeChatStore) ListFileNames(chatID uint) ([]string, error) {
	names := make([]string, 0, len(f.files[chatID]))
	for name := range f.files[chatID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeChatStore) AddFiles(docs []model.Document) error {
	f.addCalls++
	if f.addErr != nil {
		return f.addErr
	}
	for _, doc := range docs {
		if f.files[doc.ChatID][doc.FileName] {
			return gorm.ErrDuplicatedKey
		}
		f.files[doc.ChatID][doc.FileName] = true
	}
	return nil
}

func (f *fakeChatStore) RemoveFiles(chatID uint, fileNames []string) error {
	f.removeCalls++
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, name := range fileNames {
		delete(f.files[chatID], name)
	}
	return nil
}

func (f *fakeChatStore) RecordInsights(chatID uint, insights, persona string) error {
	chat, ok := f.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	chat.Insights = insights
	if persona != "" {
		chat.Persona = persona
	}
	return nil
}

func (f *fakeChatStore) ListChatsForUser(userID uint) ([]model.Chat, error) {
	var out []model.Chat
	for _, chat := range f.chats {
		if chat.UserID == userID {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (f *fakeChatStore) DeleteChat(chatID uint) error {
	if _, ok := f.chats[chatID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(f.chats, chatID)
	delete(f.files, chatID)
	return nil
}

// fakeGateway records every remote call.
type fakeGateway struct {
	indexCalls  [][]string
	removeCalls [][]string
	deleteCalls []uint

	searchResult []index.Fragment
	searchCalls  int
	lastQuery    string

	indexErr  error
	removeErr error
	searchErr error
	deleteErr error
}

func (f *fakeGateway) IndexFiles(ctx context.Context, chatID uint, files []index.File) error {
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	f.indexCalls = append(f.indexCalls, names)
	return f.indexErr
}

func (f *fakeGateway) RemoveFiles(ctx context.Context, chatID uint, fileNames []string) error {
	f.removeCalls = append(f.removeCalls, fileNames)
	return f.removeErr
}

func (f *fakeGateway) Search(ctx context.Context, chatID uint, query string, scoreThreshold float64) ([]index.Fragment, error) {
	f.searchCalls++
	f.lastQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResult, nil
}

func (f *fakeGateway) DeleteChat(ctx context.Context, chatID uint) error {
	f.deleteCalls = append(f.deleteCalls, chatID)
	return f.deleteErr
}

type fakePublisher struct {
	events []model.ChatEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event model.ChatEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeCache struct {
	query     string
	fragments []index.Fragment
	hit       bool

	deletes int
}

func (f *fakeCache) Get(ctx context.Context, chatID uint) (string, []index.Fragment, bool, error) {
	return f.query, f.fragments, f.hit, nil
}

func (f *fakeCache) Set(ctx context.Context, chatID uint, query string, fragments []index.Fragment) error {
	f.query = query
	f.fragments = fragments
	f.hit = true
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, chatID uint) error {
	f.deletes++
	f.hit = false
	return nil
}

func newTestService() (*ChatService, *fakeChatStore, *fakeGateway, *fakePublisher, *fakeCache) {
	store := newFakeChatStore()
	gateway := &fakeGateway{}
	publisher := &fakePublisher{}
	cache := &fakeCache{}
	return NewChatService(store, gateway, publisher, cache, 0.1), store, gateway, publisher, cache
}

func uploads(names ...string) []UploadFile {
	files := make([]UploadFile, len(names))
	for i, name := range names {
		files[i] = UploadFile{
			Name:     name,
			Content:  []byte(fmt.Sprintf("content of %s", name)),
			MimeType: "application/pdf",
		}
	}
	return files
}

func TestSyncFilesCreatesChatAndIndexesAll(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()

	chatID, err := svc.SyncFiles(context.Background(), SyncFilesInput{
		UserID:  1,
		Persona: "recruiter",
		Files:   uploads("a.pdf", "b.pdf"),
	})
	require.NoError(t, err)
	require.NotZero(t, chatID)

	names, err := store.ListFileNames(chatID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names)

	require.Len(t, gateway.indexCalls, 1)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, gateway.indexCalls[0])
	assert.Empty(t, gateway.removeCalls)
	assert.Equal(t, "recruiter", store.chats[chatID].Persona)
}

func TestSyncFilesUnchangedSetCostsNoRemoteCalls(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf", "b.pdf")})
	require.NoError(t, err)

	gateway.indexCalls = nil
	addCallsBefore := store.addCalls

	again, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, ChatID: chatID, Files: uploads("a.pdf", "b.pdf")})
	require.NoError(t, err)
	assert.Equal(t, chatID, again)

	assert.Empty(t, gateway.indexCalls)
	assert.Empty(t, gateway.removeCalls)
	assert.Equal(t, addCallsBefore, store.addCalls)
}

func TestSyncFilesDiffBatchesRemovalsAndAdditions(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf", "b.pdf", "c.pdf")})
	require.NoError(t, err)
	gateway.indexCalls = nil

	// b and c survive, a is dropped, d arrives.
	_, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, ChatID: chatID, Files: uploads("b.pdf", "c.pdf", "d.pdf")})
	require.NoError(t, err)

	require.Len(t, gateway.removeCalls, 1)
	assert.Equal(t, []string{"a.pdf"}, gateway.removeCalls[0])
	require.Len(t, gateway.indexCalls, 1)
	assert.Equal(t, []string{"d.pdf"}, gateway.indexCalls[0])

	names, err := store.ListFileNames(chatID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.pdf", "c.pdf", "d.pdf"}, names)
}

func TestSyncFilesEmptySubmissionRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.SyncFiles(context.Background(), SyncFilesInput{UserID: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSyncFilesBlankNameRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.SyncFiles(context.Background(), SyncFilesInput{
		UserID: 1,
		Files:  []UploadFile{{Name: "   ", Content: []byte("x")}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSyncFilesDuplicateNameInSubmission(t *testing.T) {
	svc, _, gateway, _, _ := newTestService()

	_, err := svc.SyncFiles(context.Background(), SyncFilesInput{
		UserID: 1,
		Files:  uploads("a.pdf", "a.pdf"),
	})
	assert.ErrorIs(t, err, ErrDuplicateFile)
	assert.Empty(t, gateway.indexCalls)
}

func TestSyncFilesUnknownChat(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.SyncFiles(context.Background(), SyncFilesInput{
		UserID: 1,
		ChatID: 99,
		Files:  uploads("a.pdf"),
	})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestSyncFilesOtherUsersChatNotVisible(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	_, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 2, ChatID: chatID, Files: uploads("a.pdf")})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestSyncFilesGatewayFailureSurfacesUnavailable(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()
	gateway.indexErr = errors.New("connection refused")

	_, err := svc.SyncFiles(context.Background(), SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	// Store write happens before the remote leg; a retry with the same set
	// recomputes the diff against it and converges.
	assert.Equal(t, 1, store.addCalls)
}

func TestSyncFilesRetryAfterGatewayFailureConverges(t *testing.T) {
	svc, _, gateway, _, _ := newTestService()
	ctx := context.Background()
	gateway.indexErr = errors.New("connection refused")

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Zero(t, chatID)

	gateway.indexErr = nil
	// The first attempt created the chat and stored the file; retrying into a
	// fresh chat indexes from scratch without error.
	chatID, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)
	require.NotZero(t, chatID)
}

func TestSyncFilesConcurrentDuplicateSurfacesConflict(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	store.addErr = gorm.ErrDuplicatedKey

	chat, err := svc.StartNewChat(1)
	require.NoError(t, err)

	_, err = svc.SyncFiles(context.Background(), SyncFilesInput{
		UserID: 1,
		ChatID: chat.ID,
		Files:  uploads("a.pdf"),
	})
	assert.ErrorIs(t, err, ErrDuplicateFile)
}

func TestSyncFilesInvalidatesSearchCacheOnChange(t *testing.T) {
	svc, _, _, _, cache := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)
	deletesAfterFirst := cache.deletes

	// Unchanged set leaves the cache alone.
	_, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, ChatID: chatID, Files: uploads("a.pdf")})
	require.NoError(t, err)
	assert.Equal(t, deletesAfterFirst, cache.deletes)

	_, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, ChatID: chatID, Files: uploads("b.pdf")})
	require.NoError(t, err)
	assert.Equal(t, deletesAfterFirst+1, cache.deletes)
}

func TestSearchRecordsMergedInsights(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	gateway.searchResult = []index.Fragment{
		{Text: "  first insight  ", Score: 0.9},
		{Text: "second\n\n\ninsight", Score: 0.5},
	}

	fragments, err := svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "strengths"})
	require.NoError(t, err)
	assert.Len(t, fragments, 2)
	assert.Equal(t, "first insight\n\nsecond\ninsight", store.chats[chatID].Insights)
}

func TestSearchOverwritesPreviousInsights(t *testing.T) {
	svc, store, gateway, _, cache := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	gateway.searchResult = []index.Fragment{{Text: "old", Score: 0.9}}
	_, err = svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "first"})
	require.NoError(t, err)
	require.Equal(t, "old", store.chats[chatID].Insights)

	cache.hit = false
	gateway.searchResult = []index.Fragment{{Text: "new", Score: 0.9}}
	_, err = svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "second"})
	require.NoError(t, err)
	assert.Equal(t, "new", store.chats[chatID].Insights)
}

func TestSearchRepeatQueryServedFromCache(t *testing.T) {
	svc, _, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	gateway.searchResult = []index.Fragment{{Text: "cached", Score: 0.9}}
	_, err = svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "skills"})
	require.NoError(t, err)
	require.Equal(t, 1, gateway.searchCalls)

	fragments, err := svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "skills"})
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.searchCalls)
	assert.Equal(t, "cached", fragments[0].Text)

	// A different query bypasses the cached entry.
	_, err = svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "weaknesses"})
	require.NoError(t, err)
	assert.Equal(t, 2, gateway.searchCalls)
}

func TestSearchEmptyResultClearsInsights(t *testing.T) {
	svc, store, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)
	store.chats[chatID].Insights = "stale"

	gateway.searchResult = nil
	fragments, err := svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, fragments)
	assert.Equal(t, "", store.chats[chatID].Insights)
}

func TestSearchGatewayFailure(t *testing.T) {
	svc, _, gateway, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	gateway.searchErr = errors.New("timeout")
	_, err = svc.Search(ctx, SearchInput{UserID: 1, ChatID: chatID, Query: "skills"})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestSearchBlankQueryRejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.Search(context.Background(), SearchInput{UserID: 1, ChatID: 1, Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteChatPurgesStoreThenIndex(t *testing.T) {
	svc, store, gateway, _, cache := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(ctx, 1, chatID))

	assert.NotContains(t, store.chats, chatID)
	require.Len(t, gateway.deleteCalls, 1)
	assert.Equal(t, chatID, gateway.deleteCalls[0])
	assert.Positive(t, cache.deletes)

	assert.ErrorIs(t, svc.DeleteChat(ctx, 1, chatID), ErrChatNotFound)
}

func TestDeleteChatOtherUser(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	chatID, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteChat(ctx, 2, chatID), ErrChatNotFound)
}

func TestChatsIsolatedPerUser(t *testing.T) {
	svc, _, gateway, _, _ := newTestService()
	ctx := context.Background()

	firstChat, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, Files: uploads("shared.pdf")})
	require.NoError(t, err)
	secondChat, err := svc.SyncFiles(ctx, SyncFilesInput{UserID: 2, Files: uploads("shared.pdf")})
	require.NoError(t, err)
	require.NotEqual(t, firstChat, secondChat)

	gateway.removeCalls = nil
	// Dropping the file from one chat leaves the other untouched.
	_, err = svc.SyncFiles(ctx, SyncFilesInput{UserID: 1, ChatID: firstChat, Files: uploads("other.pdf")})
	require.NoError(t, err)
	require.Len(t, gateway.removeCalls, 1)

	secondChats, err := svc.ListChats(2)
	require.NoError(t, err)
	require.Len(t, secondChats, 1)
}

func TestSyncPublishesAuditEvent(t *testing.T) {
	svc, _, _, publisher, _ := newTestService()

	chatID, err := svc.SyncFiles(context.Background(), SyncFilesInput{UserID: 1, Files: uploads("a.pdf")})
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "sync", publisher.events[0].Kind)
	assert.Equal(t, chatID, publisher.events[0].ChatID)
	assert.Equal(t, "added 1, removed 0, unchanged 0", publisher.events[0].Detail)
}

func TestMergeFragments(t *testing.T) {
	cases := []struct {
		name string
		in   []index.Fragment
		want string
	}{
		{
			name: "empty",
			in:   nil,
			want: "",
		},
		{
			name: "single",
			in:   []index.Fragment{{Text: "  one  "}},
			want: "one",
		},
		{
			name: "ranked order kept",
			in:   []index.Fragment{{Text: "b"}, {Text: "a"}},
			want: "b\n\na",
		},
		{
			name: "internal newline runs collapsed",
			in:   []index.Fragment{{Text: "line1\n\n\n\nline2"}},
			want: "line1\nline2",
		},
		{
			name: "blank fragments skipped",
			in:   []index.Fragment{{Text: "one"}, {Text: "   \n  "}, {Text: "two"}},
			want: "one\n\ntwo",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MergeFragments(tc.in))
		})
	}
}
