package broker

import (
	"context"
	"encoding/json"

	"github.com/helixcard/helix/entitlement"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ Producer = &AMQPBroker{}
var _ Consumer = &AMQPBroker{}

const (
	entitlementExchange string = "entitlement_changes"
	entitlementQueue    string = "entitlement_changes_worker"
	entitlementKey      string = "entitlement.changed"
)

// AMQPBroker carries entitlement change notifications via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	logger     *zap.Logger
}

// NewAMQPBroker returns a message broker over RabbitMQ
func NewAMQPBroker(logger *zap.Logger, amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
		logger:     logger,
	}
	if err := broker.setupExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for entitlement changes")
	}

	return broker, nil
}

func (a *AMQPBroker) setupExchange() error {
	return a.channel.ExchangeDeclare(
		entitlementExchange, // name
		"direct",            // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishChange publishes an entitlement change notification
func (a *AMQPBroker) PublishChange(change entitlement.Change) error {
	body, err := json.Marshal(change)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	if err := a.channel.Publish(
		entitlementExchange,
		entitlementKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish entitlement change")
	}
	return nil
}

// ReceiveChanges returns a channel of entitlement change notifications.
// The channel is closed when ctx is cancelled
func (a *AMQPBroker) ReceiveChanges(ctx context.Context) (<-chan entitlement.Change, error) {
	if _, err := a.channel.QueueDeclare(
		entitlementQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare queue")
	}
	if err := a.channel.QueueBind(
		entitlementQueue,
		entitlementKey,
		entitlementExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind queue to exchange")
	}
	deliveries, err := a.channel.Consume(
		entitlementQueue,
		"",
		true, // auto-ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot consume from queue")
	}

	changes := make(chan entitlement.Change)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var change entitlement.Change
				if err := json.Unmarshal(d.Body, &change); err != nil {
					a.logger.Error("Cannot decode entitlement change",
						zap.Error(err),
					)
					continue
				}
				changes <- change
			}
		}
	}()
	return changes, nil
}
