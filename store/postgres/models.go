package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/internal/entity"
)

// --- Directory models (read-only) ---

type accountModel struct {
	grove.BaseModel `grove:"table:fanout_accounts"`

	AccountID      string    `grove:"account_id,pk"`
	AccountName    string    `grove:"account_name"`
	AppSecretToken string    `grove:"app_secret_token,unique"`
	Website        string    `grove:"website"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		ID:      m.AccountID,
		Name:    m.AccountName,
		Token:   m.AppSecretToken,
		Website: m.Website,
	}
}

type destinationModel struct {
	grove.BaseModel `grove:"table:fanout_destinations"`

	ID         int64             `grove:"id,pk"`
	AccountID  string            `grove:"account_id"`
	URL        string            `grove:"url"`
	HTTPMethod string            `grove:"http_method"`
	Headers    map[string]string `grove:"headers,type:jsonb"`
	CreatedAt  time.Time         `grove:"created_at"`
	UpdatedAt  time.Time         `grove:"updated_at"`
}

func fromDestinationModel(m *destinationModel) *destination.Destination {
	return &destination.Destination{
		ID:        m.ID,
		AccountID: m.AccountID,
		URL:       m.URL,
		Method:    m.HTTPMethod,
		Headers:   m.Headers,
	}
}

// --- Delivery log models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:fanout_delivery_logs"`

	ID                 string          `grove:"id,pk"`
	EventID            string          `grove:"event_id"`
	AccountID          string          `grove:"account_id"`
	DestinationID      *int64          `grove:"destination_id"`
	ReceivedTimestamp  time.Time       `grove:"received_timestamp"`
	ProcessedTimestamp *time.Time      `grove:"processed_timestamp"`
	ReceivedData       json.RawMessage `grove:"received_data,type:jsonb"`
	Status             string          `grove:"status"`
	Error              string          `grove:"error"`
	StatusCode         int             `grove:"status_code"`
	LatencyMs          int             `grove:"latency_ms"`
}

func toAttemptModel(a *deliverylog.Attempt) *attemptModel {
	return &attemptModel{
		ID:                 a.ID.String(),
		EventID:            a.EventID,
		AccountID:          a.AccountID,
		DestinationID:      a.DestinationID,
		ReceivedTimestamp:  a.CreatedAt,
		ProcessedTimestamp: a.ProcessedAt,
		ReceivedData:       a.Payload,
		Status:             string(a.Status),
		Error:              a.Error,
		StatusCode:         a.StatusCode,
		LatencyMs:          a.LatencyMs,
	}
}

func fromAttemptModel(m *attemptModel) (*deliverylog.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	return &deliverylog.Attempt{
		ID:            attID,
		EventID:       m.EventID,
		AccountID:     m.AccountID,
		DestinationID: m.DestinationID,
		ProcessedAt:   m.ProcessedTimestamp,
		Status:        deliverylog.Status(m.Status),
		Payload:       m.ReceivedData,
		Error:         m.Error,
		StatusCode:    m.StatusCode,
		LatencyMs:     m.LatencyMs,
		CreatedAt:     m.ReceivedTimestamp,
	}, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:fanout_dead_letters"`

	ID           string          `grove:"id,pk"`
	JobID        string          `grove:"job_id"`
	EventID      string          `grove:"event_id"`
	AccountID    string          `grove:"account_id"`
	Payload      json.RawMessage `grove:"payload,type:jsonb"`
	Error        string          `grove:"error"`
	AttemptCount int             `grove:"attempt_count"`
	ReceivedAt   time.Time       `grove:"received_at"`
	FailedAt     time.Time       `grove:"failed_at"`
	ReplayedAt   *time.Time      `grove:"replayed_at"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:           e.ID.String(),
		JobID:        e.JobID.String(),
		EventID:      e.EventID,
		AccountID:    e.AccountID,
		Payload:      e.Payload,
		Error:        e.Error,
		AttemptCount: e.AttemptCount,
		ReceivedAt:   e.ReceivedAt,
		FailedAt:     e.FailedAt,
		ReplayedAt:   e.ReplayedAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.JobID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           dlqID,
		JobID:        jobID,
		EventID:      m.EventID,
		AccountID:    m.AccountID,
		Payload:      m.Payload,
		Error:        m.Error,
		AttemptCount: m.AttemptCount,
		ReceivedAt:   m.ReceivedAt,
		FailedAt:     m.FailedAt,
		ReplayedAt:   m.ReplayedAt,
	}, nil
}
