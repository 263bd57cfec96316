package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/domain/user"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
)

// ---------- in-memory repos ----------

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*user.User)}
}

func (r *fakeUserRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeUserRepo) GetByPhone(_ context.Context, _ *gorm.DB, phone string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[phone]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetOrCreateByPhone(_ context.Context, _ *gorm.DB, phone string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[phone]; ok {
		cp := *u
		return &cp, nil
	}
	u := &user.User{
		ID:             uuid.New(),
		PhoneNumber:    phone,
		LanguagePref:   "mixed",
		SummaryTime:    "22:00",
		SummaryEnabled: true,
		Timezone:       "Asia/Kolkata",
	}
	r.users[phone] = u
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) TouchLastActive(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			u.LastActiveAt = at
		}
	}
	return nil
}

func (r *fakeUserRepo) MarkSummarySent(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			u.LastSummaryAt = at
		}
	}
	return nil
}

func (r *fakeUserRepo) SaveOnboardingState(_ context.Context, _ *gorm.DB, in *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[in.PhoneNumber]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.DisplayName = in.DisplayName
	u.LanguagePref = in.LanguagePref
	u.SummaryTime = in.SummaryTime
	u.SummaryEnabled = in.SummaryEnabled
	u.Timezone = in.Timezone
	u.OnboardingStep = in.OnboardingStep
	u.OnboardingDone = in.OnboardingDone
	return nil
}

type fakeTurnRepo struct {
	mu    sync.Mutex
	turns []*convo.Turn
}

func newFakeTurnRepo() *fakeTurnRepo {
	return &fakeTurnRepo{}
}

func (r *fakeTurnRepo) Save(_ context.Context, _ *gorm.DB, t *convo.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	r.turns = append(r.turns, &cp)
	return nil
}

func (r *fakeTurnRepo) ListUserTurnsSince(_ context.Context, _ *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*convo.Turn
	for _, t := range r.turns {
		if t.UserID == userID && t.Sender == convo.SenderUser && !t.CreatedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTurnRepo) ListTurnsSince(_ context.Context, _ *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*convo.Turn
	for _, t := range r.turns {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTurnRepo) CountForUser(_ context.Context, _ *gorm.DB, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.turns {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeTurnRepo) ActiveUserIDsSince(_ context.Context, _ *gorm.DB, since time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, t := range r.turns {
		if t.Sender == convo.SenderUser && !t.CreatedAt.Before(since) && !seen[t.UserID] {
			seen[t.UserID] = true
			ids = append(ids, t.UserID)
		}
	}
	return ids, nil
}

func (r *fakeTurnRepo) all() []*convo.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*convo.Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

type fakeIncidentRepo struct {
	mu        sync.Mutex
	incidents []*convo.CrisisIncident
}

func newFakeIncidentRepo() *fakeIncidentRepo {
	return &fakeIncidentRepo{}
}

func (r *fakeIncidentRepo) Save(_ context.Context, _ *gorm.DB, inc *convo.CrisisIncident) error {
	if inc == nil || inc.TurnID == uuid.Nil {
		return apperrors.ErrValidation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inc
	r.incidents = append(r.incidents, &cp)
	return nil
}

func (r *fakeIncidentRepo) ListForUserSince(_ context.Context, _ *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.CrisisIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*convo.CrisisIncident
	for _, inc := range r.incidents {
		if inc.UserID == userID {
			cp := *inc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeIncidentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.incidents)
}

// ---------- fake completion client ----------

type fakeLLM struct {
	mu           sync.Mutex
	completeFn   func(req llm.Request) (string, error)
	jsonFn       func(req llm.Request) (map[string]any, error)
	completeReqs []llm.Request
	jsonReqs     []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.completeReqs = append(f.completeReqs, req)
	fn := f.completeFn
	f.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(req)
}

func (f *fakeLLM) CompleteJSON(_ context.Context, req llm.Request) (map[string]any, error) {
	f.mu.Lock()
	f.jsonReqs = append(f.jsonReqs, req)
	fn := f.jsonFn
	f.mu.Unlock()
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(req)
}

func (f *fakeLLM) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completeReqs)
}

func (f *fakeLLM) jsonCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jsonReqs)
}

// ---------- fake deliverer ----------

type sentMessage struct {
	To   string
	Body string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []sentMessage
	ch   chan sentMessage
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{ch: make(chan sentMessage, 64)}
}

func (d *fakeDeliverer) SendText(_ context.Context, to string, body string) error {
	d.mu.Lock()
	d.sent = append(d.sent, sentMessage{To: to, Body: body})
	d.mu.Unlock()
	d.ch <- sentMessage{To: to, Body: body}
	return nil
}

func (d *fakeDeliverer) waitForMessage(t interface {
	Fatalf(format string, args ...any)
}, timeout time.Duration) sentMessage {
	select {
	case m := <-d.ch:
		return m
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for delivered message")
		return sentMessage{}
	}
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
