// Package llm holds the generative-model boundary of the bot: the Generator
// contract, a Gemini client on the genai SDK, and a stand-in used when no model is
// configured.
package llm

import (
	"context"
	"errors"
)

// Roles of a conversation turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Persona is the system instruction sent with every request.
const Persona = `You are ATHENA, an intelligent, calm, wise advisor.
You speak naturally, confidently, and with empathy.
You are helpful, thoughtful, and precise.`

// Turn is one prior message in the conversation.
type Turn struct {
	Role string
	Text string
}

// Request is one generation call.
type Request struct {
	Prompt  string
	History []Turn
	// Context is optional background text retrieved for this prompt.
	Context []string
}

// Generator produces a reply for a prompt given prior turns.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("generative model not configured")

// Unavailable fails every call, so callers fall back to their default reply.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Request) (string, error) { return "", ErrUnavailable }
