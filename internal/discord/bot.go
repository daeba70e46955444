// Package discord connects the conversation flow to Discord through
// bwmarrin/discordgo. Each MessageCreate is converted to an InboundEvent
// and handled on its own goroutine; Run waits for in-flight handlers
// before returning.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/athenaai/athena/internal/services"
)

// Platform is the platform name stored for Discord identities.
const Platform = "discord"

// Intents the bot needs to read guild and direct messages.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev services.InboundEvent, out services.Replier) (services.Outcome, error)
}

// session is the part of *discordgo.Session the bot uses.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Bot is a running Discord connection.
type Bot struct {
	session session
	handler Handler

	mu    sync.RWMutex
	ctx   context.Context
	botID string

	wg sync.WaitGroup
}

// New creates a bot for token. The connection opens in Run.
func New(token string, h Handler) (*Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord: empty token")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = Intents
	return newBot(s, h), nil
}

func newBot(s session, h Handler) *Bot {
	return &Bot{session: s, handler: h, ctx: context.Background()}
}

// Run opens the gateway connection and blocks until ctx is done, then
// closes the session and waits for handlers still running.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.onReady(r) })
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessage(m.Message) })

	if err := b.session.Open(); err != nil {
		return err
	}
	log.Info().Msg("discord connected")

	<-ctx.Done()
	err := b.session.Close()
	b.wg.Wait()
	log.Info().Msg("discord disconnected")
	return err
}

// Wait blocks until every dispatched event has been handled.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) onReady(r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	b.mu.Lock()
	b.botID = r.User.ID
	b.mu.Unlock()
	log.Info().Str("bot_id", r.User.ID).Str("username", r.User.Username).Msg("discord ready")
}

func (b *Bot) onMessage(m *discordgo.Message) {
	b.mu.RLock()
	ctx, botID := b.ctx, b.botID
	b.mu.RUnlock()

	ev, ok := toEvent(m, botID)
	if !ok {
		return
	}
	out := &replier{s: b.session, channelID: m.ChannelID, guildID: m.GuildID, messageID: m.ID}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("event_id", ev.EventID).Msg("discord handler panic")
			}
		}()
		outcome, err := b.handler.Handle(ctx, ev, out)
		l := log.Debug()
		if err != nil {
			l = log.Error().Err(err)
		}
		l.Str("event_id", ev.EventID).
			Str("channel_id", ev.ChannelID).
			Str("outcome", string(outcome)).
			Msg("discord message handled")
	}()
}

// toEvent maps a Discord message to an InboundEvent. Messages from bots
// (including this one) and messages without an author are dropped.
func toEvent(m *discordgo.Message, botID string) (services.InboundEvent, bool) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return services.InboundEvent{}, false
	}
	if botID != "" && m.Author.ID == botID {
		return services.InboundEvent{}, false
	}
	ev := services.InboundEvent{
		EventID:         m.ID,
		Platform:        Platform,
		PlatformUserID:  m.Author.ID,
		DisplayName:     displayName(m),
		Text:            m.Content,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		SourceTimestamp: m.Timestamp.UTC(),
		IsDirectMessage: m.GuildID == "",
	}
	for _, u := range m.Mentions {
		if u != nil && botID != "" && u.ID == botID {
			ev.MentionsBot = true
			break
		}
	}
	return ev, true
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && strings.TrimSpace(m.Member.Nick) != "" {
		return m.Member.Nick
	}
	if strings.TrimSpace(m.Author.GlobalName) != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
