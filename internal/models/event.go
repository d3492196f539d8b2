package models

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
)

// EventKind distinguishes the inbound event shapes delivered by a transport.
type EventKind string

const (
	// EventCommand is a slash command such as "/setgoals Read Run".
	EventCommand EventKind = "command"
	// EventText is free text outside of a command.
	EventText EventKind = "text"
	// EventButton is a press on a rendered button, identified by its token.
	EventButton EventKind = "button"
)

// Event is one inbound interaction from a chat.
type Event struct {
	Kind   EventKind `json:"kind"`
	Name   string    `json:"name,omitempty"`  // command name without the slash, lowercased
	Args   []string  `json:"args,omitempty"`  // whitespace-separated command arguments
	Body   string    `json:"body,omitempty"`  // text body; for a typed-back token, the raw text
	Token  string    `json:"token,omitempty"` // button token
	Typed  bool      `json:"typed,omitempty"` // button token that arrived as plain text
	ChatID string    `json:"chat_id"`
	UserID string    `json:"user_id"`
	Time   int64     `json:"time"`
}

// Button is a selectable option attached to an outbound message.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// MessageFormat hints how the body should be rendered by the transport.
type MessageFormat string

const (
	// FormatPlain sends the body as is.
	FormatPlain MessageFormat = ""
	// FormatMarkdown marks the body as using *bold* and `code` spans.
	FormatMarkdown MessageFormat = "markdown"
)

// OutboundMessage is a reply or notification produced by the core.
type OutboundMessage struct {
	To      string        `json:"to"`
	Body    string        `json:"body"`
	Format  MessageFormat `json:"format,omitempty"`
	Buttons []Button      `json:"buttons,omitempty"`
}

// Button token prefixes. A token is "<prefix>:<argument>".
const (
	TokenMenu     = "menu"
	TokenCheckin  = "checkin"
	TokenRemind   = "remind"
	TokenUnremind = "unremind"
)

var tokenPrefixes = []string{TokenMenu, TokenCheckin, TokenRemind, TokenUnremind}

// GoalRef is the stable short reference to a goal used in button tokens and job keys.
// It depends only on the goal name, so a button rendered before the goal list changed
// still points at the same goal or at none.
func GoalRef(goal string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(goal))
	return fmt.Sprintf("%08x", h.Sum32())
}

// ButtonToken builds a button token.
func ButtonToken(prefix, arg string) string {
	return prefix + ":" + arg
}

// SplitButtonToken splits a token into its prefix and argument.
func SplitButtonToken(token string) (prefix, arg string, ok bool) {
	prefix, arg, ok = strings.Cut(strings.TrimSpace(token), ":")
	if !ok || !slices.Contains(tokenPrefixes, prefix) || arg == "" {
		return "", "", false
	}
	return prefix, arg, true
}

// IsButtonToken reports whether s is a well-formed button token. Text transports use it
// to recognize a typed-back button choice.
func IsButtonToken(s string) bool {
	_, _, ok := SplitButtonToken(s)
	return ok
}
