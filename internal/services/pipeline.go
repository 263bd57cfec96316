package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/clients/redis"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/domain/user"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
	"github.com/saathi-app/saathi-backend/internal/repos"
)

// Deliverer is the outbound side of the pipeline. Defined here so tests can
// substitute a recorder for the WhatsApp client.
type Deliverer interface {
	SendText(ctx context.Context, to string, body string) error
}

// InboundEvent is one raw gateway message, pre-coalescing.
type InboundEvent struct {
	MessageID string
	Phone     string
	Text      string
	SentAt    time.Time
}

type PipelineConfig struct {
	DebounceWindow time.Duration
	// StageTimeout bounds each external call inside one turn.
	StageTimeout time.Duration
	// TurnTimeout bounds the whole turn lifecycle.
	TurnTimeout time.Duration
}

// fallbackReply is sent whenever reply composition fails outright. Sending
// it still counts as the turn's one reply.
const fallbackReply = `Sorry, I'm having a little trouble thinking right now. 😅 I'm still here though - tell me more, or give me a minute and try again?`

const unsupportedReply = `I can only read text messages for now - voice notes and photos are beyond me! Type it out and I'm all ears. 😊`

// PipelineService owns the turn lifecycle: dedup, debounce, per-user FIFO
// dispatch, classification, persistence, and exactly one delivered reply
// per logical turn.
type PipelineService struct {
	log        *logger.Logger
	cfg        PipelineConfig
	users      repos.UserRepo
	turns      repos.TurnRepo
	incidents  repos.IncidentRepo
	deduper    redis.Deduper
	onboarding *OnboardingService
	crisis     *CrisisService
	mood       *MoodService
	patterns   *PatternService
	prompts    *PromptBuilder
	llm        llm.Client
	deliver    Deliverer

	debouncer *Debouncer

	qmu    sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

// userQueue serializes turns for one user: a turn's reply is delivered
// before the next turn starts composing. Distinct users drain in parallel.
type userQueue struct {
	mu      sync.Mutex
	pending []LogicalTurn
	running bool
}

func NewPipelineService(
	baseLog *logger.Logger,
	cfg PipelineConfig,
	users repos.UserRepo,
	turns repos.TurnRepo,
	incidents repos.IncidentRepo,
	deduper redis.Deduper,
	onboarding *OnboardingService,
	crisis *CrisisService,
	mood *MoodService,
	patterns *PatternService,
	llmClient llm.Client,
	deliver Deliverer,
) (*PipelineService, error) {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 20 * time.Second
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 90 * time.Second
	}

	p := &PipelineService{
		log:        baseLog.With("service", "PipelineService"),
		cfg:        cfg,
		users:      users,
		turns:      turns,
		incidents:  incidents,
		deduper:    deduper,
		onboarding: onboarding,
		crisis:     crisis,
		mood:       mood,
		patterns:   patterns,
		prompts:    NewPromptBuilder(),
		llm:        llmClient,
		deliver:    deliver,
		queues:     make(map[string]*userQueue),
	}

	deb, err := NewDebouncer(baseLog, DebouncerConfig{Window: cfg.DebounceWindow}, p.enqueue)
	if err != nil {
		return nil, err
	}
	p.debouncer = deb
	return p, nil
}

// HandleEvent ingests one gateway message: dedup, user upsert, then into
// the debounce buffer. Returns ErrDuplicateEvent for replayed ids.
func (p *PipelineService) HandleEvent(ctx context.Context, ev InboundEvent) error {
	phone := strings.TrimSpace(ev.Phone)
	if phone == "" {
		return fmt.Errorf("%w: phone required", apperrors.ErrValidation)
	}

	if strings.TrimSpace(ev.MessageID) != "" {
		first, err := p.deduper.FirstSeen(ctx, ev.MessageID)
		if err != nil {
			// Dedup store trouble must not drop user messages; at-most-once
			// loses data, at-least-once only risks a double reply.
			p.log.Warn("Dedup check failed, accepting event", "error", err.Error())
		} else if !first {
			p.log.Debug("Duplicate gateway event ignored", "message_id", ev.MessageID)
			return apperrors.ErrDuplicateEvent
		}
	}

	u, err := p.users.GetOrCreateByPhone(ctx, nil, phone)
	if err != nil {
		return err
	}
	if err := p.users.TouchLastActive(ctx, nil, u.ID, time.Now()); err != nil {
		p.log.Warn("TouchLastActive failed", "user_id", u.ID, "error", err.Error())
	}

	sentAt := ev.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	p.debouncer.Ingest(phone, ev.Text, sentAt)
	return nil
}

// HandleUnsupported replies to non-text messages without entering the
// pipeline. The notice is the turn's one reply.
func (p *PipelineService) HandleUnsupported(ctx context.Context, phone string) {
	if _, err := p.users.GetOrCreateByPhone(ctx, nil, phone); err != nil {
		p.log.Warn("User upsert for unsupported message failed", "error", err.Error())
	}
	p.sendReply(ctx, phone, unsupportedReply)
}

// enqueue is the debouncer's flush sink. It only appends and flips the
// running flag, so it honors the non-blocking contract.
func (p *PipelineService) enqueue(turn LogicalTurn) {
	p.qmu.Lock()
	q, ok := p.queues[turn.UserKey]
	if !ok {
		q = &userQueue{}
		p.queues[turn.UserKey] = q
	}
	p.qmu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, turn)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		p.wg.Add(1)
		go p.drainQueue(q)
	}
}

func (p *PipelineService) drainQueue(q *userQueue) {
	defer p.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		turn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		p.processTurn(turn)
	}
}

// Close drains the debouncer and waits for in-flight turns.
func (p *PipelineService) Close(ctx context.Context) error {
	if err := p.debouncer.Close(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processTurn runs the full lifecycle for one logical turn. Every exit path
// delivers exactly one reply; composition failures fall back to the canned
// apology rather than silence.
func (p *PipelineService) processTurn(turn LogicalTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TurnTimeout)
	defer cancel()

	log := p.log.With("user_key", turn.UserKey)

	u, err := p.users.GetByPhone(ctx, nil, turn.UserKey)
	if err != nil {
		p.failTurn(ctx, log, turn.UserKey, fmt.Errorf("%w: user lookup: %v", apperrors.ErrFatalPipeline, err))
		return
	}

	text := turn.Text
	lower := strings.ToLower(strings.TrimSpace(text))

	// Settings commands restart guided setup from any state.
	if lower == "settings" || lower == "restart onboarding" {
		reply, err := p.onboarding.Reset(ctx, u)
		if err != nil {
			log.Error("Onboarding reset failed", "error", err.Error())
			reply = fallbackReply
		}
		p.sendReply(ctx, turn.UserKey, reply)
		return
	}

	// Setup turns route to the state machine and skip classification.
	// They are not persisted as journal entries.
	if !u.OnboardingDone {
		reply, err := p.onboarding.Advance(ctx, u, text)
		if err != nil {
			log.Error("Onboarding step failed", "step", u.OnboardingStep, "error", err.Error())
			reply = fallbackReply
		}
		if reply != "" {
			p.sendReply(ctx, turn.UserKey, reply)
		}
		return
	}

	// Crisis screen runs before anything else and short-circuits the
	// normal path entirely on a hit.
	assessCtx, assessCancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	assessment, _ := p.crisis.Assess(assessCtx, text)
	assessCancel()
	if assessment.IsCrisis {
		p.handleCrisisTurn(ctx, u, turn, assessment)
		return
	}

	// Pattern window is read before the new turn is committed, so the
	// summary never includes the message being answered.
	patterns, err := p.patterns.RecentWindow(ctx, u.ID)
	if err != nil {
		log.Warn("Pattern window failed, continuing without trends", "error", err.Error())
		patterns = PatternSummary{TrendDirection: TrendInsufficient}
	}

	// Conversation context is also read pre-commit so the new message only
	// appears once in the reply prompt.
	recent, err := p.turns.ListTurnsSince(ctx, nil, u.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Warn("Recent context read failed", "error", err.Error())
		recent = nil
	}
	if len(recent) > 8 {
		recent = recent[len(recent)-8:]
	}

	similarCtx, similarCancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	similar := p.patterns.FindSimilar(similarCtx, u.ID, text, 3)
	similarCancel()

	moodCtx, moodCancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	reading, err := p.mood.Analyze(moodCtx, text, recent)
	moodCancel()
	if err != nil {
		log.Warn("Mood analysis failed, using neutral default", "error", err.Error())
		reading = NeutralMood()
	}

	userTurn := &convo.Turn{
		UserID:       u.ID,
		Sender:       convo.SenderUser,
		Content:      text,
		Mood:         reading.Mood,
		Intensity:    reading.Intensity,
		Themes:       mustJSON(reading.Themes),
		NeedsSupport: reading.NeedsSupport,
		CreatedAt:    turn.LastSentAt,
	}
	if err := p.turns.Save(ctx, nil, userTurn); err != nil {
		p.failTurn(ctx, log, turn.UserKey, fmt.Errorf("%w: persist turn: %v", apperrors.ErrFatalPipeline, err))
		return
	}

	reply := p.composeReply(ctx, u, patterns, recent, similar, text)
	p.sendReply(ctx, turn.UserKey, reply)
	p.saveAssistantTurn(ctx, u, reply)
}

func (p *PipelineService) handleCrisisTurn(ctx context.Context, u *user.User, turn LogicalTurn, assessment CrisisAssessment) {
	log := p.log.With("user_id", u.ID)

	userTurn := &convo.Turn{
		UserID:       u.ID,
		Sender:       convo.SenderUser,
		Content:      turn.Text,
		Mood:         "crisis",
		Intensity:    10,
		Themes:       mustJSON([]string{"crisis", assessment.CrisisType}),
		NeedsSupport: true,
		CreatedAt:    turn.LastSentAt,
	}
	saveErr := p.turns.Save(ctx, nil, userTurn)
	if saveErr != nil {
		// The reply still goes out; a storage failure must never delay
		// crisis support.
		log.Error("Crisis turn persist failed", "error", saveErr.Error())
	}

	reply, resources := p.crisis.BuildCrisisReply(assessment, u.DisplayName, u.PhoneNumber)

	// An incident row must reference a turn row that actually exists, so
	// the gate is the insert outcome, not the ID (the create hook assigns
	// the ID before the insert runs).
	if saveErr == nil {
		inc := &convo.CrisisIncident{
			UserID:        u.ID,
			TurnID:        userTurn.ID,
			Severity:      assessment.Severity,
			Source:        assessment.Source,
			CrisisType:    assessment.CrisisType,
			ResourcesSent: mustJSON(resources),
		}
		if err := p.incidents.Save(ctx, nil, inc); err != nil {
			log.Error("Crisis incident persist failed", "error", err.Error())
		}
	}

	log.Warn("Crisis turn handled",
		"severity", assessment.Severity,
		"crisis_type", assessment.CrisisType,
		"source", assessment.Source,
	)

	p.sendReply(ctx, u.PhoneNumber, reply)
	p.saveAssistantTurn(ctx, u, reply)
}

// composeReply builds the model reply, falling back to the canned apology
// on any failure.
func (p *PipelineService) composeReply(ctx context.Context, u *user.User, patterns PatternSummary, recent, similar []*convo.Turn, text string) string {
	replyCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	reply, err := p.llm.Complete(replyCtx, llm.Request{
		System:      p.prompts.BuildReplySystem(u, patterns),
		User:        p.prompts.BuildReplyUser(recent, similar, text),
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		p.log.Warn("Reply composition failed, sending fallback", "user_id", u.ID, "error", err.Error())
		return fallbackReply
	}
	return reply
}

// failTurn terminates a turn that cannot complete its lifecycle. The
// generic fallback still goes out so the one-reply contract holds.
func (p *PipelineService) failTurn(ctx context.Context, log *logger.Logger, phone string, err error) {
	log.Error("Turn failed", "error", err.Error())
	p.sendReply(ctx, phone, fallbackReply)
}

// sendReply is the single point where the turn's one reply leaves the
// pipeline. Delivery failure past the client's retries is logged and
// dropped; the gateway side owns redelivery.
func (p *PipelineService) sendReply(ctx context.Context, phone, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	if err := p.deliver.SendText(ctx, phone, body); err != nil {
		p.log.Error("Reply delivery failed", "phone", phone, "error", err.Error())
	}
}

func (p *PipelineService) saveAssistantTurn(ctx context.Context, u *user.User, body string) {
	t := &convo.Turn{
		UserID:  u.ID,
		Sender:  convo.SenderAssistant,
		Content: body,
		Themes:  mustJSON([]string{}),
	}
	if err := p.turns.Save(ctx, nil, t); err != nil {
		p.log.Warn("Assistant turn persist failed", "user_id", u.ID, "error", err.Error())
	}
}

func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}
