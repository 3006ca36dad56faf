// Package bot implements the subscriber chat commands and the Telegram
// long-polling loop that feeds them.
package bot

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"sync"

	"github.com/amishk599/jobalert/internal/model"
)

// Request is one incoming chat message.
type Request struct {
	ChatID    string
	Text      string
	FirstName string
	Username  string
}

type step int

const (
	stepKeywords step = iota + 1
	stepLocations
)

// session tracks a /config conversation in progress.
type session struct {
	step     step
	keywords []string
}

// Handler answers subscriber commands. Conversation state lives in memory
// and is lost on restart.
type Handler struct {
	store  model.SubscriberStore
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewHandler(store model.SubscriberStore, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Handle returns the reply for req, or "" when nothing should be sent.
// Store failures are logged and answered with a generic error message.
func (h *Handler) Handle(ctx context.Context, req Request) string {
	if req.ChatID == "" {
		return ""
	}
	text := strings.TrimSpace(req.Text)

	cmd, ok := parseCommand(text)
	if !ok {
		reply, err := h.continueSession(ctx, req.ChatID, text)
		return h.reply(req, "text", reply, err)
	}

	// Any command abandons a pending /config conversation.
	h.endSession(req.ChatID)

	var (
		reply string
		err   error
	)
	switch cmd {
	case "start":
		reply, err = h.start(ctx, req)
	case "register":
		reply, err = h.register(ctx, req)
	case "config":
		reply, err = h.config(ctx, req)
	case "status":
		reply, err = h.status(ctx, req)
	case "pause":
		reply, err = h.setActive(ctx, req, false)
	case "resume":
		reply, err = h.setActive(ctx, req, true)
	default:
		reply = msgHelp
	}
	return h.reply(req, cmd, reply, err)
}

func (h *Handler) reply(req Request, cmd, reply string, err error) string {
	if err != nil {
		h.logger.Error("chat command failed", "chat_id", req.ChatID, "command", cmd, "error", err)
		return msgTechnical
	}
	return reply
}

// parseCommand extracts "config" from "/config" or "/config@SomeBot args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}

func (h *Handler) lookup(ctx context.Context, chatID string) (model.Subscriber, bool, error) {
	sub, err := h.store.SubscriberByChatID(ctx, chatID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Subscriber{}, false, nil
	}
	if err != nil {
		return model.Subscriber{}, false, err
	}
	return sub, true, nil
}

// start reactivates a known subscriber or welcomes a new one.
func (h *Handler) start(ctx context.Context, req Request) (string, error) {
	_, found, err := h.lookup(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if !found {
		h.logger.Info("new chat welcomed", "chat_id", req.ChatID)
		return msgWelcome, nil
	}
	if err := h.store.SetSubscriberActive(ctx, req.ChatID, true); err != nil {
		return "", err
	}
	h.logger.Info("subscriber reactivated", "chat_id", req.ChatID)
	return msgResumed, nil
}

func (h *Handler) register(ctx context.Context, req Request) (string, error) {
	_, found, err := h.lookup(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if found {
		return msgAlreadyRegistered, nil
	}

	name := req.FirstName
	if name == "" {
		name = "Unknown"
	}
	username := req.Username
	if username != "" && !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	if _, err := h.store.CreateSubscriber(ctx, model.Subscriber{
		ChatID:   req.ChatID,
		Name:     name,
		Username: username,
		Language: model.DefaultLanguage,
		Active:   true,
	}); err != nil {
		return "", err
	}
	h.logger.Info("subscriber registered", "chat_id", req.ChatID, "name", name, "username", username)
	return msgRegistered, nil
}

func (h *Handler) config(ctx context.Context, req Request) (string, error) {
	_, found, err := h.lookup(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if !found {
		return msgNotRegistered, nil
	}

	h.mu.Lock()
	h.sessions[req.ChatID] = &session{step: stepKeywords}
	h.mu.Unlock()
	return msgAskKeywords, nil
}

func (h *Handler) status(ctx context.Context, req Request) (string, error) {
	sub, found, err := h.lookup(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if !found {
		return msgStatusNoUser, nil
	}
	searches, err := h.store.Searches(ctx, sub.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if sub.Active {
		b.WriteString(msgStatusActive)
	} else {
		b.WriteString(msgStatusPaused)
	}
	if len(searches) == 0 {
		b.WriteString(msgStatusNoSearch)
		return b.String(), nil
	}

	b.WriteString(msgStatusCriteria)
	for _, s := range searches {
		b.WriteString("\n\nMots-clés: " + html.EscapeString(strings.Join(s.Keywords, ", ")))
		b.WriteString("\nLieux: " + html.EscapeString(strings.Join(s.Locations, ", ")))
		if s.Active {
			b.WriteString("\nStatut: ✅ Actif")
		} else {
			b.WriteString("\nStatut: ⏸️ Suspendu")
		}
	}
	return b.String(), nil
}

func (h *Handler) setActive(ctx context.Context, req Request, active bool) (string, error) {
	err := h.store.SetSubscriberActive(ctx, req.ChatID, active)
	if errors.Is(err, model.ErrNotFound) {
		return msgNotRegistered, nil
	}
	if err != nil {
		return "", err
	}
	h.logger.Info("subscriber alerts toggled", "chat_id", req.ChatID, "active", active)
	if active {
		return msgResumed, nil
	}
	return msgPaused, nil
}

// continueSession feeds free text into a pending /config conversation.
// Text outside a conversation is ignored.
func (h *Handler) continueSession(ctx context.Context, chatID, text string) (string, error) {
	h.mu.Lock()
	sess, ok := h.sessions[chatID]
	var current session
	if ok {
		current = *sess
	}
	h.mu.Unlock()
	if !ok {
		return "", nil
	}

	terms := model.SplitTerms(text)
	if len(terms) == 0 {
		return msgInvalidInput, nil
	}

	switch current.step {
	case stepKeywords:
		h.mu.Lock()
		h.sessions[chatID] = &session{step: stepLocations, keywords: terms}
		h.mu.Unlock()
		return msgAskLocations, nil

	case stepLocations:
		reply, err := h.saveSearch(ctx, chatID, current.keywords, terms)
		if err != nil {
			return "", err
		}
		h.endSession(chatID)
		return reply, nil
	}
	return msgInvalidInput, nil
}

// saveSearch replaces the subscriber's first search, keeping its max age, or
// creates one with the default max age.
func (h *Handler) saveSearch(ctx context.Context, chatID string, keywords, locations []string) (string, error) {
	sub, found, err := h.lookup(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !found {
		h.endSession(chatID)
		return msgNotRegistered, nil
	}
	existing, err := h.store.Searches(ctx, sub.ID)
	if err != nil {
		return "", err
	}

	search := model.SavedSearch{
		SubscriberID: sub.ID,
		Keywords:     keywords,
		Locations:    locations,
		MaxAgeDays:   model.DefaultMaxAgeDays,
		Active:       true,
	}
	reply := msgConfigSaved
	if len(existing) > 0 {
		search.ID = existing[0].ID
		search.MaxAgeDays = existing[0].MaxAgeDays
		reply = msgConfigUpdate
	}
	if _, err := h.store.UpsertSearch(ctx, search); err != nil {
		return "", err
	}
	h.logger.Info("search saved", "chat_id", chatID, "keywords", keywords, "locations", locations)
	return reply, nil
}

func (h *Handler) endSession(chatID string) {
	h.mu.Lock()
	delete(h.sessions, chatID)
	h.mu.Unlock()
}
