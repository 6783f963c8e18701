package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Event types emitted after each committed transition.
const (
	EventSubmissionCreated     = "submission.created"
	EventSubmissionUpdated     = "submission.updated"
	EventSubmissionFinalised   = "submission.finalised"
	EventSubmissionUnfinalised = "submission.unfinalised"
	EventSubmissionReverted    = "submission.reverted"
	EventFeedbackCreated       = "feedback.created"
	EventFeedbackUpdated       = "feedback.updated"
	EventFeedbackAutoAgreed    = "feedback.auto_agreed"
	EventFeedbackModerated     = "feedback.moderated"
	EventGradesPublished       = "grades.published"
	EventExtensionGranted      = "deadline.extension_granted"
	EventPersonalDeadlineSet   = "deadline.personal_set"
	EventAllocationChanged     = "allocation.changed"
	EventSampleChanged         = "allocation.sample_changed"
	EventPlagiarismFlagged     = "plagiarism.flagged"
	EventRubricSaved           = "coursework.rubric_saved"
)

// WorkflowEvent is the payload fanned out to brokers.
type WorkflowEvent struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Source       string                 `json:"source"`
	CourseworkID uint                   `json:"coursework_id"`
	SubmissionID uint                   `json:"submission_id,omitempty"`
	FeedbackID   uint                   `json:"feedback_id,omitempty"`
	ActorID      uint                   `json:"actor_id"`
	Data         map[string]interface{} `json:"data,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// EventPublisher delivers workflow events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event WorkflowEvent) error
}

type brokerPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
}

// NewBrokerPublisher publishes to Redis pub/sub and NATS. Either connection
// may be nil; with both nil events are dropped.
func NewBrokerPublisher(redisClient *redis.Client, channelBase string, natsConn *nats.Conn) EventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &brokerPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
	}
}

// Broker failure labels used for metrics.
const (
	brokerRedis = "redis"
	brokerNATS  = "nats"
)

// BrokerError names the broker that rejected an event.
type BrokerError struct {
	Broker string
	Err    error
}

func (e *BrokerError) Error() string {
	return e.Broker + ": " + e.Err.Error()
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

func (p *brokerPublisher) Publish(ctx context.Context, event WorkflowEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Source == "" {
		event.Source = p.nodeID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			errs = append(errs, &BrokerError{Broker: brokerRedis, Err: err})
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject+"."+event.Type, payload); err != nil {
			errs = append(errs, &BrokerError{Broker: brokerNATS, Err: err})
		}
	}

	return errors.Join(errs...)
}
