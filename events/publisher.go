package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
)

// RoutingGameFinished is the routing key of GameFinished events.
const RoutingGameFinished = "game.finished"

// GameFinished is emitted once when a multiplayer room reaches finished.
type GameFinished struct {
	RoomCode   string          `json:"roomCode"`
	Players    []models.Player `json:"players"`
	Questions  int             `json:"questions"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Publisher delivers game events to downstream consumers.
type Publisher interface {
	PublishGameFinished(ctx context.Context, ev GameFinished) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishGameFinished(context.Context, GameFinished) error { return nil }
func (NopPublisher) Close() error                                           { return nil }

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as persistent JSON messages on a durable
// topic exchange.
type AMQPPublisher struct {
	conn     io.Closer
	ch       amqpChannel
	exchange string
	mutex    sync.Mutex // amqp channels are not safe for concurrent publishing
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newAMQPPublisher(ch, conn, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Log.Infof("Publishing game events to exchange %s", exchange)
	return p, nil
}

// newAMQPPublisher declares the exchange on ch. conn, when set, is closed
// together with the channel.
func newAMQPPublisher(ch amqpChannel, conn io.Closer, exchange string) (*AMQPPublisher, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// gameFinishedMessage is the wire form of ev.
func gameFinishedMessage(ev GameFinished) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    ev.FinishedAt,
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) PublishGameFinished(ctx context.Context, ev GameFinished) error {
	msg, err := gameFinishedMessage(ev)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		RoutingGameFinished,
		false, // mandatory
		false, // immediate
		msg)
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		return p.conn.Close()
	}
	return err
}
