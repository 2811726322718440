package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dreamweaver-server/internal/messaging"
	"dreamweaver-server/internal/messaging/mocks"
	"dreamweaver-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var committed = models.TurnCommitted{
	WorldID:     "demo_world",
	TurnID:      "turn-1",
	UserID:      "bob",
	Version:     4,
	Narration:   "The river rises.",
	CommittedAt: time.Unix(1700000000, 0).UTC(),
}

func newPublisher(t *testing.T, ch *mocks.Channel) *messaging.TurnEventPublisher {
	t.Helper()
	ch.On("ExchangeDeclare", "world_turns", amqp.ExchangeTopic, true, false, false, false, amqp.Table(nil)).Return(nil).Once()
	p, err := messaging.NewTurnEventPublisherWithChannel(ch, "world_turns", zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestTurnEventPublisher_Publishes(t *testing.T) {
	ch := new(mocks.Channel)
	p := newPublisher(t, ch)

	ch.On("PublishWithContext", mock.Anything, "world_turns", "world.demo_world.turn", false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var got models.TurnCommitted
			return json.Unmarshal(msg.Body, &got) == nil &&
				got.WorldID == committed.WorldID &&
				got.Version == committed.Version &&
				got.CommittedAt.Equal(committed.CommittedAt) &&
				msg.MessageId == "turn-1" &&
				msg.DeliveryMode == amqp.Persistent
		})).Return(nil).Once()

	require.NoError(t, p.NotifyTurnCommitted(context.Background(), committed))
	ch.AssertExpectations(t)
}

func TestTurnEventPublisher_RetriesTransientFailures(t *testing.T) {
	ch := new(mocks.Channel)
	p := newPublisher(t, ch)

	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(errors.New("channel busy")).Once()
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(nil).Once()

	require.NoError(t, p.NotifyTurnCommitted(context.Background(), committed))
	ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
}

func TestTurnEventPublisher_GivesUp(t *testing.T) {
	ch := new(mocks.Channel)
	p := newPublisher(t, ch)

	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(amqp.ErrClosed)

	err := p.NotifyTurnCommitted(context.Background(), committed)
	assert.ErrorIs(t, err, amqp.ErrClosed)
	ch.AssertNumberOfCalls(t, "PublishWithContext", 3)
}

func TestNewTurnEventPublisher_DeclareFails(t *testing.T) {
	ch := new(mocks.Channel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("access refused"))

	_, err := messaging.NewTurnEventPublisherWithChannel(ch, "world_turns", zap.NewNop())
	assert.ErrorContains(t, err, "access refused")
}
