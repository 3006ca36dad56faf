package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewHandler(s, discardLogger()), s
}

func say(h *Handler, chatID, text string) string {
	return h.Handle(context.Background(), Request{ChatID: chatID, Text: text, FirstName: "Marie", Username: "marie_vd"})
}

func TestRegisterAndConfigure(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()

	if got := say(h, "42", "/start"); got != msgWelcome {
		t.Errorf("/start for new chat = %q", got)
	}
	if got := say(h, "42", "/config"); got != msgNotRegistered {
		t.Errorf("/config before register = %q", got)
	}
	if got := say(h, "42", "/register"); got != msgRegistered {
		t.Fatalf("/register = %q", got)
	}
	if got := say(h, "42", "/register"); got != msgAlreadyRegistered {
		t.Errorf("second /register = %q", got)
	}

	sub, err := s.SubscriberByChatID(ctx, "42")
	if err != nil {
		t.Fatalf("SubscriberByChatID: %v", err)
	}
	if sub.Name != "Marie" || sub.Username != "@marie_vd" || !sub.Active || sub.Language != "fr" {
		t.Errorf("unexpected subscriber: %+v", sub)
	}

	if got := say(h, "42", "/config"); got != msgAskKeywords {
		t.Fatalf("/config = %q", got)
	}
	if got := say(h, "42", "secrétaire, administration , "); got != msgAskLocations {
		t.Fatalf("keywords step = %q", got)
	}
	if got := say(h, "42", "Vaud,Valais"); got != msgConfigSaved {
		t.Fatalf("locations step = %q", got)
	}

	searches, err := s.Searches(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Searches: %v", err)
	}
	if len(searches) != 1 {
		t.Fatalf("expected 1 search, got %d", len(searches))
	}
	got := searches[0]
	if strings.Join(got.Keywords, "|") != "secrétaire|administration" {
		t.Errorf("keywords = %v", got.Keywords)
	}
	if strings.Join(got.Locations, "|") != "Vaud|Valais" {
		t.Errorf("locations = %v", got.Locations)
	}
	if got.MaxAgeDays != model.DefaultMaxAgeDays || !got.Active {
		t.Errorf("unexpected search settings: %+v", got)
	}

	// Free text after the conversation ends is ignored.
	if reply := say(h, "42", "bonjour"); reply != "" {
		t.Errorf("expected no reply outside a session, got %q", reply)
	}
}

func TestReconfigureKeepsSingleSearch(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()
	say(h, "7", "/register")
	sub, _ := s.SubscriberByChatID(ctx, "7")
	if _, err := s.UpsertSearch(ctx, model.SavedSearch{
		SubscriberID: sub.ID, Keywords: []string{"old"}, Locations: []string{"Bern"}, MaxAgeDays: 3, Active: true,
	}); err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}

	say(h, "7", "/config")
	say(h, "7", "comptable")
	if got := say(h, "7", "Genève"); got != msgConfigUpdate {
		t.Errorf("expected update reply, got %q", got)
	}

	searches, _ := s.Searches(ctx, sub.ID)
	if len(searches) != 1 {
		t.Fatalf("expected 1 search, got %d", len(searches))
	}
	if searches[0].Keywords[0] != "comptable" || searches[0].MaxAgeDays != 3 {
		t.Errorf("unexpected search after update: %+v", searches[0])
	}
}

func TestConfigRejectsEmptyInput(t *testing.T) {
	h, _ := newTestHandler(t)
	say(h, "1", "/register")
	say(h, "1", "/config")

	if got := say(h, "1", " , ,"); got != msgInvalidInput {
		t.Errorf("empty keywords = %q", got)
	}
	// Still waiting for keywords.
	if got := say(h, "1", "dev"); got != msgAskLocations {
		t.Errorf("retry keywords = %q", got)
	}
}

func TestCommandAbandonsSession(t *testing.T) {
	h, _ := newTestHandler(t)
	say(h, "1", "/register")
	say(h, "1", "/config")
	say(h, "1", "/help")

	if got := say(h, "1", "dev"); got != "" {
		t.Errorf("expected session to be abandoned, got %q", got)
	}
}

func TestPauseResumeAndStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	if got := say(h, "5", "/pause"); got != msgNotRegistered {
		t.Errorf("/pause unregistered = %q", got)
	}
	if got := say(h, "5", "/status"); got != msgStatusNoUser {
		t.Errorf("/status unregistered = %q", got)
	}

	say(h, "5", "/register")
	if got := say(h, "5", "/status"); got != msgStatusActive+msgStatusNoSearch {
		t.Errorf("/status without search = %q", got)
	}

	say(h, "5", "/config")
	say(h, "5", "<dev>")
	say(h, "5", "Bern")

	if got := say(h, "5", "/pause"); got != msgPaused {
		t.Errorf("/pause = %q", got)
	}
	status := say(h, "5", "/status")
	if !strings.HasPrefix(status, msgStatusPaused) {
		t.Errorf("expected paused status, got %q", status)
	}
	if !strings.Contains(status, "&lt;dev&gt;") || !strings.Contains(status, "Lieux: Bern") {
		t.Errorf("status should list escaped criteria, got %q", status)
	}

	if got := say(h, "5", "/resume"); got != msgResumed {
		t.Errorf("/resume = %q", got)
	}
	say(h, "5", "/pause")
	if got := say(h, "5", "/start"); got != msgResumed {
		t.Errorf("/start for paused subscriber = %q", got)
	}
	if !strings.HasPrefix(say(h, "5", "/status"), msgStatusActive) {
		t.Error("expected active status after /start")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/config", "config", true},
		{"/Status@JobAlertBot", "status", true},
		{"/start payload", "start", true},
		{"bonjour", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	h, _ := newTestHandler(t)
	if got := say(h, "1", "/whatever"); got != msgHelp {
		t.Errorf("unknown command = %q", got)
	}
}

// brokenStore fails every lookup.
type brokenStore struct {
	model.SubscriberStore
}

func (brokenStore) SubscriberByChatID(context.Context, string) (model.Subscriber, error) {
	return model.Subscriber{}, errors.New("connection refused")
}

func TestStoreFailureAnswersTechnicalError(t *testing.T) {
	h := NewHandler(brokenStore{}, discardLogger())
	if got := say(h, "1", "/status"); got != msgTechnical {
		t.Errorf("expected technical error reply, got %q", got)
	}
}

// --- Listener ---

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }

func (f *fakeUpdates) StopReceivingUpdates() { f.once.Do(func() { close(f.stopped) }) }

type recordingSender struct {
	mu      sync.Mutex
	replies map[string][]string
	got     chan struct{}
}

func (s *recordingSender) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	s.replies[chatID] = append(s.replies[chatID], text)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func TestListenerRepliesAndStops(t *testing.T) {
	h, _ := newTestHandler(t)
	updates := &fakeUpdates{ch: make(chan tgbotapi.Update, 4), stopped: make(chan struct{})}
	sender := &recordingSender{replies: map[string][]string{}, got: make(chan struct{}, 4)}
	l := NewListener(updates, h, sender, discardLogger())

	updates.ch <- tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 99},
		From: &tgbotapi.User{FirstName: "Luc", UserName: "luc"},
		Text: "/register",
	}}
	updates.ch <- tgbotapi.Update{} // no message, ignored

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply sent")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	select {
	case <-updates.stopped:
	default:
		t.Error("expected StopReceivingUpdates on shutdown")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.replies["99"]) != 1 || sender.replies["99"][0] != msgRegistered {
		t.Errorf("unexpected replies: %v", sender.replies)
	}
}
