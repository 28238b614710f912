// internal/service/ingestion_service.go
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/inboxintel-backend/internal/errors"
	"github.com/unclebandit/inboxintel-backend/internal/logging"
	"github.com/unclebandit/inboxintel-backend/internal/metrics"
	"github.com/unclebandit/inboxintel-backend/internal/model"
	"github.com/unclebandit/inboxintel-backend/internal/repository"
)

// Outcome is the result of ingesting one record.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

type IngestOutcome struct {
	Outcome    Outcome
	ExternalID string
	// Reason is set for rejected records.
	Reason string
}

type BatchResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	// NextSkip and HasMore are only filled for backfill batches.
	NextSkip int  `json:"next_skip,omitempty"`
	HasMore  bool `json:"has_more,omitempty"`
}

func (b *BatchResult) add(o Outcome) {
	switch o {
	case OutcomeInserted:
		b.Inserted++
	case OutcomeDuplicate:
		b.Duplicates++
	case OutcomeRejected:
		b.Rejected++
	}
}

// PageInfo describes where a backfill batch sits in the upstream listing.
type PageInfo struct {
	Skip  int
	Total int
}

const (
	EventMessageReceived = "reservation.messageReceived"
	EventMessageSent     = "reservation.messageSent"
)

const webhookSchemaURL = "inboxintel://webhook-message.json"

const webhookSchema = `{
  "type": "object",
  "required": ["event", "message"],
  "properties": {
    "event": {"type": "string"},
    "reservationId": {"type": ["string", "null"]},
    "conversation": {
      "type": ["object", "null"],
      "properties": {"_id": {"type": ["string", "null"]}}
    },
    "message": {
      "type": "object",
      "properties": {
        "_id": {"type": ["string", "null"]},
        "body": {"type": ["string", "null"]},
        "createdAt": {"type": ["string", "null"]},
        "from": {"type": ["string", "null"]}
      }
    }
  }
}`

type IngestionService struct {
	MessageRepo repository.MessageRepositoryInterface
	schema      *jsonschema.Schema
}

func NewIngestionService(repo repository.MessageRepositoryInterface) (*IngestionService, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(webhookSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	schema, err := c.Compile(webhookSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return &IngestionService{MessageRepo: repo, schema: schema}, nil
}

type webhookEnvelope struct {
	Event         string  `json:"event"`
	ReservationID *string `json:"reservationId"`
	Conversation  *struct {
		ID *string `json:"_id"`
	} `json:"conversation"`
	Message *apiMessage `json:"message"`
}

// apiMessage is the Guesty message shape shared by webhooks and the
// conversations listing.
type apiMessage struct {
	ID             *string `json:"_id"`
	Body           *string `json:"body"`
	CreatedAt      *string `json:"createdAt"`
	ConversationID *string `json:"conversationId"`
	ReservationID  *string `json:"reservationId"`
	From           *string `json:"from"`
}

// IngestWebhook stores one pushed message. Malformed payloads come back as
// OutcomeRejected with a nil error; only store failures return an error.
func (s *IngestionService) IngestWebhook(ctx context.Context, payload []byte) (IngestOutcome, error) {
	msg, err := s.normalizeWebhook(payload)
	if err != nil {
		return s.reject(model.SourceWebhook, "", err), nil
	}
	return s.store(ctx, msg)
}

// IngestPollBatch stores a page of polled messages. A bad record is counted
// and skipped; a store failure stops the batch and returns partial counts.
func (s *IngestionService) IngestPollBatch(ctx context.Context, raws []json.RawMessage) (BatchResult, error) {
	return s.ingestBatch(ctx, model.SourcePoll, raws)
}

// IngestBackfillBatch is IngestPollBatch plus paging bookkeeping.
func (s *IngestionService) IngestBackfillBatch(ctx context.Context, raws []json.RawMessage, page PageInfo) (BatchResult, error) {
	result, err := s.ingestBatch(ctx, model.SourceBackfill, raws)
	result.NextSkip = page.Skip + len(raws)
	result.HasMore = len(raws) > 0 && result.NextSkip < page.Total
	return result, err
}

func (s *IngestionService) ingestBatch(ctx context.Context, source model.Source, raws []json.RawMessage) (BatchResult, error) {
	var result BatchResult
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		msg, err := normalizeListed(raw, source)
		if err != nil {
			result.add(s.reject(source, fmt.Sprintf("#%d", i), err).Outcome)
			continue
		}
		outcome, err := s.store(ctx, msg)
		if err != nil {
			return result, fmt.Errorf("record %d: %w", i, err)
		}
		result.add(outcome.Outcome)
	}

	logging.Module("ingestion").WithFields(logrus.Fields{
		"source":     source,
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"rejected":   result.Rejected,
	}).Info("batch ingested")
	return result, nil
}

func (s *IngestionService) store(ctx context.Context, msg *model.Message) (IngestOutcome, error) {
	res, err := s.MessageRepo.UpsertIfAbsent(ctx, msg)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues(string(msg.Source), "error").Inc()
		logging.LogError(logging.GetLogger(), "ingestion", "store", "upsert failed", msg.ExternalID, err)
		return IngestOutcome{}, err
	}

	outcome := OutcomeInserted
	if res == repository.UpsertDuplicate {
		outcome = OutcomeDuplicate
	}
	metrics.MessagesIngested.WithLabelValues(string(msg.Source), string(outcome)).Inc()
	logging.Module("ingestion").WithFields(logrus.Fields{
		"external_id": msg.ExternalID,
		"source":      msg.Source,
		"outcome":     outcome,
	}).Debug("message ingested")
	return IngestOutcome{Outcome: outcome, ExternalID: msg.ExternalID}, nil
}

func (s *IngestionService) reject(source model.Source, ref string, err error) IngestOutcome {
	reason := err.Error()
	var rejected *appErrors.RejectedInput
	if errors.As(err, &rejected) {
		reason = rejected.Reason
	}
	metrics.MessagesIngested.WithLabelValues(string(source), string(OutcomeRejected)).Inc()
	logging.Module("ingestion").WithFields(logrus.Fields{
		"source": source,
		"record": ref,
		"reason": reason,
	}).Warn("record rejected")
	return IngestOutcome{Outcome: OutcomeRejected, Reason: reason}
}

// ====================== Normalization ======================

func (s *IngestionService) normalizeWebhook(payload []byte) (*model.Message, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.NewRejectedInput("invalid JSON: %v", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, appErrors.NewRejectedInput("invalid webhook envelope: %v", err)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, appErrors.NewRejectedInput("invalid webhook envelope: %v", err)
	}
	if env.Event != EventMessageReceived && env.Event != EventMessageSent {
		return nil, appErrors.NewRejectedInput("unsupported event: %s", env.Event)
	}
	if env.Message == nil {
		return nil, appErrors.NewRejectedInput("missing 'message' field")
	}

	m := *env.Message
	m.ReservationID = env.ReservationID
	if env.Conversation != nil {
		m.ConversationID = env.Conversation.ID
	}
	return m.toMessage(model.SourceWebhook)
}

func normalizeListed(raw json.RawMessage, source model.Source) (*model.Message, error) {
	var m apiMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, appErrors.NewRejectedInput("invalid message JSON: %v", err)
	}
	return m.toMessage(source)
}

func (m apiMessage) toMessage(source model.Source) (*model.Message, error) {
	id := strings.TrimSpace(model.StringValue(m.ID, ""))
	if id == "" {
		return nil, appErrors.NewRejectedInput("message missing '_id' field")
	}
	text := model.StringValue(m.Body, "")
	if strings.TrimSpace(text) == "" {
		return nil, appErrors.NewRejectedInput("message %s has empty body", id)
	}
	createdAt := model.StringValue(m.CreatedAt, "")
	if createdAt == "" {
		return nil, appErrors.NewRejectedInput("message %s missing createdAt", id)
	}
	receivedAt, err := ParseTimestamp(createdAt)
	if err != nil {
		return nil, appErrors.NewRejectedInput("message %s has unparseable createdAt %q", id, createdAt)
	}

	return &model.Message{
		ExternalID:     id,
		ConversationID: model.StringPtr(model.StringValue(m.ConversationID, "")),
		ReservationID:  model.StringPtr(model.StringValue(m.ReservationID, "")),
		GuestName:      model.StringPtr(model.StringValue(m.From, "")),
		Text:           text,
		ReceivedAt:     receivedAt,
		Source:         source,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 with or without a zone. Values without a
// zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
