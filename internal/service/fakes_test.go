package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"companion-go/internal/model"
	"companion-go/pkg/events"
	"companion-go/pkg/oauth"
	"companion-go/pkg/webhook"

	"gorm.io/gorm"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) FindByEmail(email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByProviderSubject(provider, subject string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Provider == provider && u.ProviderSubject != nil && *u.ProviderSubject == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByID(id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Update(user *model.User) error {
	return r.Create(user)
}

type fakeSessionRepo struct {
	mu      sync.Mutex
	seq     uint64
	revoked map[string]bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{revoked: make(map[string]bool)}
}

func (r *fakeSessionRepo) Revoke(_ context.Context, sid string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[sid] = true
	return nil
}

func (r *fakeSessionRepo) IsRevoked(_ context.Context, sid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[sid], nil
}

func (r *fakeSessionRepo) NextSeq(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.AuthEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.AuthEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeVerifier struct {
	identity *oauth.Identity
	err      error
}

func (v *fakeVerifier) Verify(context.Context, string, string) (*oauth.Identity, error) {
	return v.identity, v.err
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]model.UserProfile
	upserts  int
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]model.UserProfile)}
}

func (r *fakeProfileRepo) FindByID(_ context.Context, id string) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *fakeProfileRepo) Upsert(_ context.Context, p *model.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	now := time.Now()
	if old, ok := r.profiles[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.profiles[p.ID] = *p
	return nil
}

func (r *fakeProfileRepo) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "name":
			p.Name = v.(string)
		case "has_seen_welcome":
			p.HasSeenWelcome = v.(bool)
		case "onboarding_completed":
			p.OnboardingCompleted = v.(bool)
		case "gender":
			p.Gender = v.(string)
		case "gender_detail":
			p.GenderDetail = v.(string)
		case "goals":
			p.Goals = v.(model.StringList)
		case "birthdate":
			p.Birthdate = v.(*model.Date)
		}
	}
	p.UpdatedAt = time.Now()
	r.profiles[id] = p
	return nil
}

type fakeConversationRepo struct {
	mu       sync.Mutex
	convs    map[string]model.Conversation
	messages map[string][]model.ChatMessage
	current  map[string]string
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		convs:    make(map[string]model.Conversation),
		messages: make(map[string][]model.ChatMessage),
		current:  make(map[string]string),
	}
}

func (r *fakeConversationRepo) CreateConversation(_ context.Context, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[c.ID]; ok {
		return errors.New("duplicate conversation")
	}
	r.convs[c.ID] = *c
	return nil
}

func (r *fakeConversationRepo) FindConversation(_ context.Context, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r *fakeConversationRepo) ListConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, c := range r.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeConversationRepo) TouchConversation(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.convs[id]
	c.UpdatedAt = at
	r.convs[id] = c
	return nil
}

func (r *fakeConversationRepo) AppendMessage(_ context.Context, m *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], *m)
	return nil
}

func (r *fakeConversationRepo) ListMessages(_ context.Context, id string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage(nil), r.messages[id]...), nil
}

func (r *fakeConversationRepo) GetCurrentConversationID(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[userID], nil
}

func (r *fakeConversationRepo) SetCurrentConversationID(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[userID] = id
	return nil
}

type fakeWebhook struct {
	reply string
	err   error
	calls []webhook.Request
}

func (w *fakeWebhook) Send(_ context.Context, req webhook.Request) (string, error) {
	w.calls = append(w.calls, req)
	return w.reply, w.err
}

type fakeAuditRepo struct {
	entries map[uint64]model.AuthAuditLog
}

func (r *fakeAuditRepo) Save(_ context.Context, e *model.AuthAuditLog) error {
	if r.entries == nil {
		r.entries = make(map[uint64]model.AuthAuditLog)
	}
	if _, ok := r.entries[e.Seq]; !ok {
		r.entries[e.Seq] = *e
	}
	return nil
}

func (r *fakeAuditRepo) ListByUser(_ context.Context, userID string, limit int) ([]model.AuthAuditLog, error) {
	var out []model.AuthAuditLog
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
