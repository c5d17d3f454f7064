package core

import (
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a thread's history.
type Message struct {
	Role    Role   `json:"role" jsonschema:"user, assistant or system"`
	Content string `json:"content" jsonschema:"message text"`
}

// LastUserMessage returns the content of the most recent user message.
func LastUserMessage(history []Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content, true
		}
	}
	return "", false
}

// Sentiment is the polarity of a feedback annotation.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNegative
}

// Feedback is a caller annotation on one response.
type Feedback struct {
	ID               int64     `json:"id,omitempty"`
	ResponseID       string    `json:"response_id"`
	DataSource       string    `json:"datasource"`
	Sentiment        Sentiment `json:"sentiment" jsonschema:"positive or negative"`
	Reason           string    `json:"reason,omitempty" jsonschema:"why the user liked or disliked the answer"`
	SelectedResponse Message   `json:"selected_response" jsonschema:"the response being rated"`
	History          []Message `json:"message_history" jsonschema:"conversation leading to the response"`
	CreatedAt        time.Time `json:"created_at"`
}

// Response is the outcome of one pipeline run on a thread.
type Response struct {
	ID       string     `json:"id"`
	ThreadID string     `json:"thread_id"`
	Text     string     `json:"text"`
	SQL      string     `json:"sql,omitempty"`
	Result   *ResultSet `json:"result,omitempty"`
	// Error carries the last execution error surfaced in the answer, if any.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	mu       sync.Mutex
	feedback *Feedback
}

// DraftFeedback builds an annotation for the response without recording it.
// It fails when the response is already annotated.
func (r *Response) DraftFeedback(sentiment Sentiment, reason string) (*Feedback, error) {
	if !sentiment.Valid() {
		return nil, &ValidationError{Path: "sentiment", Problems: []string{"must be positive or negative, got " + string(sentiment)}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedback != nil {
		return nil, ErrFeedbackAlreadySet
	}
	return &Feedback{
		ResponseID:       r.ID,
		Sentiment:        sentiment,
		Reason:           reason,
		SelectedResponse: Message{Role: RoleAssistant, Content: r.Text},
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// SetFeedback annotates the response. It succeeds exactly once.
func (r *Response) SetFeedback(sentiment Sentiment, reason string) (*Feedback, error) {
	fb, err := r.DraftFeedback(sentiment, reason)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedback != nil {
		return nil, ErrFeedbackAlreadySet
	}
	stored := *fb
	r.feedback = &stored
	return fb, nil
}

// Feedback returns the annotation, or nil when none was set.
func (r *Response) Feedback() *Feedback {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedback == nil {
		return nil
	}
	fb := *r.feedback
	return &fb
}

// RestoreFeedback marks the response as annotated by a stored entry.
func (r *Response) RestoreFeedback(fb *Feedback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = fb
}
