package core

import (
	"context"
	"encoding/json"
	"time"
)

// Checkpoint is the persisted state of one conversation thread.
type Checkpoint struct {
	ThreadID string
	Messages []Message
	// State is the last pipeline state, encoded by the pipeline package.
	State     json.RawMessage
	UpdatedAt time.Time
}

// Thread is a persisted conversation bound to one datasource.
type Thread struct {
	ID         string    `json:"id"`
	DataSource string    `json:"datasource"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store defines the persistence operations for datasources, threads and feedback.
type Store interface {
	Close() error

	// Datasource operations
	CreateDataSource(ctx context.Context, ds *DataSource) error
	GetDataSource(ctx context.Context, name string) (*DataSource, error)
	ListDataSources(ctx context.Context) ([]*DataSource, error)
	TouchDataSource(ctx context.Context, name string, hydrated time.Time) error
	DeleteDataSource(ctx context.Context, name string) error

	// Thread operations
	CreateThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, datasource string) ([]*Thread, error)

	// Checkpoint operations
	GetCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)
	PutCheckpoint(ctx context.Context, cp *Checkpoint) error

	// Response operations
	SaveResponse(ctx context.Context, r *Response) error
	GetResponse(ctx context.Context, id string) (*Response, error)
	SetResponseFeedback(ctx context.Context, fb *Feedback) error

	// Feedback operations
	ListFeedback(ctx context.Context, datasource string, unconsumedOnly bool) ([]*Feedback, error)
	MarkFeedbackConsumed(ctx context.Context, ids []int64) error
}
