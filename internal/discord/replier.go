package discord

import (
	"context"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageRunes is Discord's per-message content limit.
const MaxMessageRunes = 2000

// replier answers in the channel of one inbound message. The first chunk
// is sent as a reply to that message; later chunks follow as plain sends.
type replier struct {
	s         session
	channelID string
	guildID   string
	messageID string
}

func (r *replier) Typing(ctx context.Context) error {
	return r.s.ChannelTyping(r.channelID, discordgo.WithContext(ctx))
}

func (r *replier) SendReply(ctx context.Context, text string) error {
	for i, chunk := range SplitMessage(text, MaxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}
		if i == 0 && r.messageID != "" {
			msg.Reference = &discordgo.MessageReference{
				MessageID: r.messageID,
				ChannelID: r.channelID,
				GuildID:   r.guildID,
			}
		}
		if _, err := r.s.ChannelMessageSendComplex(r.channelID, msg, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// SplitMessage cuts text into chunks of at most limit runes. A cut prefers
// the last newline, then the last space, in the back half of the window;
// otherwise it falls on the rune boundary. Blank text yields no chunks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	rs := []rune(text)
	for len(rs) > limit {
		cut := breakPoint(rs[:limit])
		chunk := strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace)
		if chunk != "" {
			out = append(out, chunk)
		}
		rs = []rune(strings.TrimLeftFunc(string(rs[cut:]), unicode.IsSpace))
	}
	if len(rs) > 0 {
		out = append(out, string(rs))
	}
	return out
}

func breakPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i >= half; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= half; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return len(window)
}
