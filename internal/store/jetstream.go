package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/clarification-engine/internal/model"
	natsclient "github.com/capitalize-ai/clarification-engine/internal/nats"
)

const (
	// StreamName is the name of the turn log stream.
	StreamName = "CLARIFICATION_TURNS"

	// BucketName is the KV bucket holding conversation records and
	// preference counters.
	BucketName = "CONVERSATIONS"

	// turnSubjectPrefix scopes the turn log below the clarify subject
	// space without capturing the presentation channel subjects.
	turnSubjectPrefix = "clarify.turn"

	// casAttempts bounds the optimistic-concurrency retry loop.
	casAttempts = 5
)

// JetStreamStore is the durable conversation store: an append-only turn
// stream plus a KV bucket updated under revision CAS.
type JetStreamStore struct {
	client *natsclient.Client
	kv     jetstream.KeyValue
}

// record is the KV representation of a conversation, without its turns.
type record struct {
	ID          string                      `json:"id"`
	TenantID    string                      `json:"tenant_id"`
	UserID      string                      `json:"user_id"`
	State       model.LifecycleState        `json:"state"`
	Preferences map[string]model.Preference `json:"preferences"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// NewJetStreamStore ensures the stream and bucket exist and returns the
// store.
func NewJetStreamStore(ctx context.Context, client *natsclient.Client) (*JetStreamStore, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Subjects:    []string{turnSubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "Append-only clarification turn log",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	kv, err := js.KeyValue(ctx, BucketName)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketName,
			Description: "Conversation records and preference counters",
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &JetStreamStore{client: client, kv: kv}, nil
}

// TurnSubject returns the subject a conversation's turns are appended on.
func TurnSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", turnSubjectPrefix, conversationID)
}

// Create persists a new conversation record.
func (s *JetStreamStore) Create(ctx context.Context, conv *model.Conversation) error {
	rec := record{
		ID:          conv.ID,
		TenantID:    conv.TenantID,
		UserID:      conv.UserID,
		State:       conv.State,
		Preferences: conv.Preferences,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}
	if rec.Preferences == nil {
		rec.Preferences = make(map[string]model.Preference)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Create(ctx, conv.ID, data); err != nil {
		return fmt.Errorf("failed to create conversation record: %w", err)
	}
	return nil
}

// Get returns the conversation record with its turn log.
func (s *JetStreamStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	rec, _, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	turns, _, _, err := s.ListTurns(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}

	return &model.Conversation{
		ID:          rec.ID,
		TenantID:    rec.TenantID,
		UserID:      rec.UserID,
		State:       rec.State,
		Turns:       turns,
		Preferences: rec.Preferences,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// AppendTurn publishes a turn to the conversation's log.
func (s *JetStreamStore) AppendTurn(ctx context.Context, id string, turn model.Turn) (uint64, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, TurnSubject(id), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish turn: %w", err)
	}

	if err := s.touch(ctx, id, func(rec *record) {}); err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

// UpdateState transitions the conversation's lifecycle state.
func (s *JetStreamStore) UpdateState(ctx context.Context, id string, state model.LifecycleState) error {
	return s.touch(ctx, id, func(rec *record) {
		rec.State = state
	})
}

// IncrementPreference bumps a preference frequency counter. Conflicting
// writers retry against the fresh revision; the increment is never lost.
func (s *JetStreamStore) IncrementPreference(ctx context.Context, id, key, value string) error {
	return s.touch(ctx, id, func(rec *record) {
		pref := rec.Preferences[key]
		if pref.Value == value {
			pref.Frequency++
		} else {
			pref = model.Preference{Value: value, Frequency: 1}
		}
		pref.LastUsed = time.Now()
		rec.Preferences[key] = pref
	})
}

// ListTurns pages through the turn log after a sequence. limit <= 0 means
// no bound.
func (s *JetStreamStore) ListTurns(ctx context.Context, id string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error) {
	js := s.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: TurnSubject(id),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	fetchLimit := limit
	if fetchLimit <= 0 {
		fetchLimit = 1000
	}

	batch, err := consumer.Fetch(fetchLimit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch turns: %w", err)
	}

	var turns []model.Turn
	var lastSequence uint64
	for msg := range batch.Messages() {
		var turn model.Turn
		if err := json.Unmarshal(msg.Data(), &turn); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			turn.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		turns = append(turns, turn)
	}
	if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	hasMore := limit > 0 && len(turns) == limit
	return turns, lastSequence, hasMore, nil
}

// touch applies a mutation to the KV record under revision CAS. A stale
// revision makes Update fail; the loop rereads and reapplies, so no
// concurrent mutation is lost.
func (s *JetStreamStore) touch(ctx context.Context, id string, mutate func(*record)) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, revision, err := s.getRecord(ctx, id)
		if err != nil {
			return err
		}

		mutate(rec)
		rec.UpdatedAt = time.Now()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		if _, err := s.kv.Update(ctx, id, data, revision); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("failed to update conversation record after %d attempts: %w", casAttempts, lastErr)
}

func (s *JetStreamStore) getRecord(ctx context.Context, id string) (*record, uint64, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, model.ErrConversationNotFound
		}
		return nil, 0, fmt.Errorf("failed to read conversation record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal conversation record: %w", err)
	}
	if rec.Preferences == nil {
		rec.Preferences = make(map[string]model.Preference)
	}
	return &rec, entry.Revision(), nil
}
