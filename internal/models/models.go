// Package models defines the core data structures for AlienChat.
//
// It includes conversations, messages and the JSON envelopes shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Conversation defaults
const (
	// DefaultConversationTitle is the placeholder title of a freshly created conversation.
	DefaultConversationTitle = "New chat"
	// MaxAutoTitleLength is the number of runes kept when a conversation is titled from its first message.
	MaxAutoTitleLength = 30
	// MaxTitleLength bounds user supplied titles.
	MaxTitleLength = 200
	// NoResponseText is shown when the completion endpoint returned no content.
	NoResponseText = "No response received."
	// ErrorReplyPrefix starts the bot message shown for a failed completion.
	ErrorReplyPrefix = "Error: "
)

// Error variables for better error handling and testability
var (
	ErrEmptyTitle   = errors.New("chat title cannot be empty")
	ErrTitleTooLong = errors.New("chat title exceeds maximum length")
	ErrInvalidTheme = errors.New("invalid theme")
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks messages typed by the user.
	SenderUser Sender = "user"
	// SenderBot marks scripted questions and completion replies.
	SenderBot Sender = "bot"
)

// Message is a single entry of a conversation. Messages are never modified once appended.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(text string) Message {
	return Message{Sender: SenderUser, Text: text, Timestamp: time.Now()}
}

// NewBotMessage builds a bot message stamped with the current time.
func NewBotMessage(text string) Message {
	return Message{Sender: SenderBot, Text: text, Timestamp: time.Now()}
}

// Conversation is a titled, ordered message log.
type Conversation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Messages    []Message  `json:"messages"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUpdated time.Time  `json:"lastUpdated,omitempty"`
	Archived    bool       `json:"archived,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	UserEmail   string     `json:"userEmail,omitempty"`
}

// ActivityTime returns the time used to order and group conversations.
func (c Conversation) ActivityTime() time.Time {
	if !c.LastUpdated.IsZero() {
		return c.LastUpdated
	}
	return c.CreatedAt
}

// HasDefaultTitle reports whether the conversation still carries the placeholder title.
func (c Conversation) HasDefaultTitle() bool {
	return c.Title == DefaultConversationTitle
}

// AutoTitle derives a conversation title from a message, keeping at most
// MaxAutoTitleLength runes and marking truncation with an ellipsis.
func AutoTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= MaxAutoTitleLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxAutoTitleLength]) + "..."
}

// ValidateTitle checks a user supplied title and returns its trimmed form.
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", ErrTitleTooLong
	}
	return title, nil
}

// Theme is the user's color scheme preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// DefaultTheme is used when no preference was stored.
const DefaultTheme = ThemeDark

// IsValidTheme checks if the given theme is supported.
func IsValidTheme(t Theme) bool {
	switch t {
	case ThemeDark, ThemeLight:
		return true
	default:
		return false
	}
}

// Toggle returns the opposite theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
