package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/triviaserver/models"
)

// MockChannel is a test double for an AMQP channel.
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

var finished = GameFinished{
	RoomCode:   "ROOM42",
	Players:    []models.Player{{ID: "a", DisplayName: "Ann", Score: 2}},
	Questions:  3,
	FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
}

func TestGameFinishedMessage(t *testing.T) {
	msg, err := gameFinishedMessage(finished)
	require.NoError(t, err)

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, finished.FinishedAt, msg.Timestamp)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "ROOM42", decoded["roomCode"])
	assert.EqualValues(t, 3, decoded["questions"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["finishedAt"])
	require.Len(t, decoded["players"], 1)
}

func TestAMQPPublisher_PublishGameFinished(t *testing.T) {
	ch := &MockChannel{}
	ch.On("ExchangeDeclare", "trivia.events", "topic", true, false, false, false).Return(nil).Once()
	ch.On("PublishWithContext", "trivia.events", RoutingGameFinished, false, false,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var ev GameFinished
			return msg.DeliveryMode == amqp.Persistent &&
				json.Unmarshal(msg.Body, &ev) == nil &&
				ev.RoomCode == "ROOM42"
		})).Return(nil).Once()
	ch.On("Close").Return(nil).Once()

	p, err := newAMQPPublisher(ch, nil, "trivia.events")
	require.NoError(t, err)
	require.NoError(t, p.PublishGameFinished(context.Background(), finished))
	require.NoError(t, p.Close())

	ch.AssertExpectations(t)
}

func TestAMQPPublisher_DeclareFailureClosesChannel(t *testing.T) {
	ch := &MockChannel{}
	ch.On("ExchangeDeclare", "trivia.events", "topic", true, false, false, false).Return(errors.New("access refused")).Once()
	ch.On("Close").Return(nil).Once()

	_, err := newAMQPPublisher(ch, nil, "trivia.events")
	assert.ErrorContains(t, err, "declare exchange trivia.events")
	ch.AssertExpectations(t)
}
