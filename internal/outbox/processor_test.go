package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"concord-core/internal/domain/outbox"
	"concord-core/internal/events"
	"concord-core/internal/repository"
	"concord-core/pkg/database"
	"concord-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []events.Envelope
	fail      bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.fail {
		return errors.New("broker unavailable")
	}
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	f.published = append(f.published, env)
	return nil
}

func newOutboxRepo(t *testing.T) repository.OutboxRepository {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return repository.NewStore(db).Outbox
}

func seedEffect(t *testing.T, repo repository.OutboxRepository, kind string, createdAt time.Time) outbox.EffectRecord {
	t.Helper()
	rec := outbox.EffectRecord{
		ID:           uuid.New(),
		DiscussionID: uuid.New(),
		Kind:         kind,
		Payload:      `{"kind":"` + kind + `"}`,
		CreatedAt:    createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), &rec))
	return rec
}

func TestProcessBatch_PublishesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	repo := newOutboxRepo(t)
	pub := &fakePublisher{}
	p := NewProcessor(repo, pub, "effects", logger.Nop(), 10, time.Second, 3)

	base := time.Now().Add(-time.Minute)
	seedEffect(t, repo, "effect.send_return_receipt", base)
	seedEffect(t, repo, "effect.display_notification", base.Add(time.Second))

	p.ProcessBatch(ctx)

	require.Len(t, pub.published, 2)
	assert.Equal(t, "effect.send_return_receipt", pub.published[0].EventType)
	assert.Equal(t, "effect.display_notification", pub.published[1].EventType)

	remaining, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProcessBatch_FailedPublishStaysPending(t *testing.T) {
	ctx := context.Background()
	repo := newOutboxRepo(t)
	pub := &fakePublisher{fail: true}
	p := NewProcessor(repo, pub, "effects", logger.Nop(), 10, time.Second, 3)

	seedEffect(t, repo, "effect.send_return_receipt", time.Now())
	p.ProcessBatch(ctx)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.True(t, pending[0].LastError.Valid)

	// The broker recovers: the record drains on the next batch.
	pub.fail = false
	p.ProcessBatch(ctx)
	require.Len(t, pub.published, 1)
}

func TestProcessBatch_DropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := newOutboxRepo(t)
	pub := &fakePublisher{fail: true}
	p := NewProcessor(repo, pub, "effects", logger.Nop(), 10, time.Second, 2)

	seedEffect(t, repo, "effect.send_return_receipt", time.Now())
	for i := 0; i < 3; i++ {
		p.ProcessBatch(ctx)
	}

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, pub.published)
}
