// Package services – Conversation
//
// Conversation turns one inbound chat event into at most one reply. It
// decides whether the bot was addressed, resolves the sender to a canonical
// user, builds context from the ledger and the knowledge cache, calls the
// generative model, records the turn, and sends the answer. Identity
// resolution is the only step whose failure aborts the event; everything
// after it degrades to a logged warning.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athenaai/athena/internal/knowledge"
	"github.com/athenaai/athena/internal/llm"
	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/ratelimit"
)

// FallbackReply is sent when the model fails.
const FallbackReply = "I'm having trouble thinking right now."

// InboundEvent is a platform-neutral chat message addressed to the bot.
type InboundEvent struct {
	EventID         string
	Platform        string
	PlatformUserID  string
	DisplayName     string
	Text            string
	ChannelID       string
	GuildID         string
	SourceTimestamp time.Time
	IsDirectMessage bool
	MentionsBot     bool
}

// Replier delivers output back to the event's channel.
type Replier interface {
	SendReply(ctx context.Context, text string) error
	Typing(ctx context.Context) error
}

// HistoryStore is the ledger as seen by the conversation flow.
type HistoryStore interface {
	Append(ctx context.Context, in AppendInput) (string, error)
	LoadRecent(ctx context.Context, userID string, limit int, cursor string) (Page, error)
	Stats(ctx context.Context, userID string, at time.Time) error
}

// ActivityToucher records per-platform activity.
type ActivityToucher interface {
	Touch(ctx context.Context, canonicalUserID, platform, platformUserID string, at time.Time) error
}

// KnowledgeSource supplies background passages for a prompt.
type KnowledgeSource interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Passage, error)
}

var (
	_ HistoryStore    = (*Ledger)(nil)
	_ ActivityToucher = (*PlatformLinker)(nil)
	_ KnowledgeSource = (*knowledge.Cache)(nil)
)

// Outcome tells what Handle did with an event.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeReplied     Outcome = "replied"
	OutcomeFallback    Outcome = "fallback"
)

// ConversationConfig tunes the flow.
type ConversationConfig struct {
	BotName         string
	HistoryTurns    int
	KnowledgeK      int
	GenerateTimeout time.Duration
	UserRPS         float64
	UserBurst       int
}

// Conversation handles inbound chat events.
type Conversation struct {
	Resolver  Resolver
	History   HistoryStore
	Activity  ActivityToucher
	Events    EventStore
	Generator llm.Generator
	// Knowledge is optional.
	Knowledge KnowledgeSource

	cfg     ConversationConfig
	limits  *ratelimit.Buckets
	nameRE  *regexp.Regexp
	leadRE  *regexp.Regexp
	mention *regexp.Regexp
}

// NewConversation wires a Conversation; zero config fields get defaults.
func NewConversation(cfg ConversationConfig, r Resolver, h HistoryStore, a ActivityToucher, ev EventStore, g llm.Generator, k KnowledgeSource) *Conversation {
	if strings.TrimSpace(cfg.BotName) == "" {
		cfg.BotName = "athena"
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.KnowledgeK <= 0 {
		cfg.KnowledgeK = 3
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	if cfg.UserRPS <= 0 {
		cfg.UserRPS = 0.5
	}
	if cfg.UserBurst <= 0 {
		cfg.UserBurst = 3
	}
	if g == nil {
		g = llm.Unavailable{}
	}
	name := regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(cfg.BotName)))
	return &Conversation{
		Resolver:  r,
		History:   h,
		Activity:  a,
		Events:    ev,
		Generator: g,
		Knowledge: k,
		cfg:       cfg,
		limits:    ratelimit.New(cfg.UserRPS, cfg.UserBurst),
		nameRE:    regexp.MustCompile(`(?i)\b` + name + `\b`),
		leadRE:    regexp.MustCompile(`(?i)^` + name + `\b[,:]?\s*`),
		mention:   regexp.MustCompile(`<@!?\d+>`),
	}
}

// Addressed reports whether the bot should answer ev.
func (c *Conversation) Addressed(ev InboundEvent) bool {
	return ev.IsDirectMessage || ev.MentionsBot || c.nameRE.MatchString(ev.Text)
}

// Prompt strips mentions and a leading bot-name address from text.
func (c *Conversation) Prompt(text string) string {
	s := strings.TrimSpace(c.mention.ReplaceAllString(text, ""))
	s = c.leadRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Handle processes one event. It returns an error only when the sender could
// not be resolved or the reply could not be delivered.
func (c *Conversation) Handle(ctx context.Context, ev InboundEvent, out Replier) (oc Outcome, err error) {
	tr := otel.Tracer("services/Conversation")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("platform", ev.Platform),
			attribute.String("event.id", ev.EventID),
		),
	)
	received := time.Now().UTC()
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(oc)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := log.Ctx(ctx).With().
		Str("platform", ev.Platform).
		Str("event_id", ev.EventID).
		Logger()
	ctx = logger.WithContext(ctx)

	if !c.Addressed(ev) {
		return c.ignored("not_addressed"), nil
	}
	prompt := c.Prompt(ev.Text)
	if prompt == "" {
		return c.ignored("empty"), nil
	}

	// Keyed by platform identity so a flood is dropped before any store write.
	if !c.limits.Allow(ev.Platform + ":" + ev.PlatformUserID) {
		logger.Info().Msg("user over rate limit, event ignored")
		observability.ObserveIgnored("rate_limited")
		return OutcomeRateLimited, nil
	}

	res, err := c.Resolver.ResolveDetailed(ctx, ev.Platform, ev.PlatformUserID, ev.DisplayName)
	if err != nil {
		logger.Error().Err(err).Msg("sender not resolved, event dropped")
		return "", err
	}
	userID := res.CanonicalUserID
	logger = logger.With().Str("canonical_user_id", userID).Logger()
	ctx = logger.WithContext(ctx)
	span.SetAttributes(attribute.String("canonical_user.id", userID))

	if c.Events != nil {
		seen, err := c.Events.Seen(ctx, ev.Platform, ev.EventID)
		if err != nil {
			logger.Warn().Err(err).Msg("event dedupe lookup failed")
		} else if seen {
			logger.Debug().Msg("event already answered")
			observability.ObserveIgnored("duplicate")
			return OutcomeDuplicate, nil
		}
	}

	if err := out.Typing(ctx); err != nil {
		logger.Debug().Err(err).Msg("typing indicator failed")
	}

	history := c.loadHistory(ctx, logger, userID)
	background := c.searchKnowledge(ctx, logger, prompt)

	reply, genErr := c.generate(ctx, llm.Request{Prompt: prompt, History: history, Context: background})
	oc = OutcomeReplied
	var response *string
	if genErr != nil {
		logger.Warn().Err(genErr).Msg("generation failed, sending fallback")
		reply, oc = FallbackReply, OutcomeFallback
	} else {
		response = &reply
	}

	at := ev.SourceTimestamp
	if at.IsZero() {
		at = time.Now()
	}
	msgID, err := c.History.Append(ctx, AppendInput{
		CanonicalUserID: userID,
		Platform:        ev.Platform,
		PlatformUserID:  ev.PlatformUserID,
		Username:        ev.DisplayName,
		ChannelID:       ev.ChannelID,
		GuildID:         ev.GuildID,
		Text:            prompt,
		Response:        response,
		SourceTimestamp: at,
		ReceivedAt:      received,
	})
	if err != nil {
		// The reply still goes out; this turn will be missing from memory.
		logger.Error().Err(err).Msg("ledger append failed")
	} else {
		if err := c.History.Stats(ctx, userID, at); err != nil {
			logger.Warn().Err(err).Msg("message stats not updated")
		}
		if c.Events != nil {
			if err := c.Events.Mark(ctx, ev.Platform, ev.EventID, msgID); err != nil {
				logger.Warn().Err(err).Msg("event not marked processed")
			}
		}
	}
	if c.Activity != nil {
		if err := c.Activity.Touch(ctx, userID, ev.Platform, ev.PlatformUserID, at); err != nil {
			logger.Warn().Err(err).Msg("platform activity not updated")
		}
	}

	if err := out.SendReply(ctx, reply); err != nil {
		logger.Error().Err(err).Msg("reply not delivered")
		return oc, err
	}
	return oc, nil
}

func (c *Conversation) ignored(reason string) Outcome {
	observability.ObserveIgnored(reason)
	return OutcomeIgnored
}

func (c *Conversation) loadHistory(ctx context.Context, logger zerolog.Logger, userID string) []llm.Turn {
	page, err := c.History.LoadRecent(ctx, userID, c.cfg.HistoryTurns, "")
	if err != nil {
		logger.Warn().Err(err).Msg("history unavailable, continuing without it")
		return nil
	}
	turns := make([]llm.Turn, 0, 2*len(page.Messages))
	for _, m := range page.Messages {
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: m.Text})
		if m.Response != nil {
			turns = append(turns, llm.Turn{Role: llm.RoleModel, Text: *m.Response})
		}
	}
	return turns
}

func (c *Conversation) searchKnowledge(ctx context.Context, logger zerolog.Logger, prompt string) []string {
	if c.Knowledge == nil {
		return nil
	}
	ps, err := c.Knowledge.Search(ctx, prompt, c.cfg.KnowledgeK)
	if err != nil {
		logger.Debug().Err(err).Msg("knowledge unavailable")
		return nil
	}
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Text)
	}
	return out
}

func (c *Conversation) generate(ctx context.Context, req llm.Request) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	reply, err := c.Generator.Generate(gctx, req)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	observability.ObserveGeneration(time.Since(start).Seconds(), err)
	if err != nil {
		return "", errors.Join(ErrGenerationFailure, err)
	}
	return reply, nil
}
