package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBus carries changes across processes through a RabbitMQ fanout
// exchange. Every instance publishes its local changes to the exchange and
// re-delivers consumed ones into an embedded MemoryBus, so subscribers see a
// single merged stream regardless of which process wrote the row.
type RabbitBus struct {
	local    *MemoryBus
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	exchange string
	done     chan struct{}
}

// DialRabbit connects to RabbitMQ, declares the fanout exchange and starts
// the consume loop on an exclusive queue.
func DialRabbit(url, exchange string) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pubCh.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = pubCh.Close()
		_ = conn.Close()
		return nil, err
	}

	b := &RabbitBus{
		local:    NewMemoryBus(),
		conn:     conn,
		pubCh:    pubCh,
		exchange: exchange,
		done:     make(chan struct{}),
	}

	consCh, err := conn.Channel()
	if err != nil {
		b.Close()
		return nil, err
	}
	q, err := consCh.QueueDeclare("", false, true, true, false, nil) // broker-named, exclusive
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := consCh.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		b.Close()
		return nil, err
	}
	msgs, err := consCh.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		b.Close()
		return nil, err
	}
	go b.consume(msgs)
	return b, nil
}

func (b *RabbitBus) consume(msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-b.done:
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			var c Change
			if err := json.Unmarshal(d.Body, &c); err != nil {
				log.Printf("events: drop malformed change: %v", err)
				continue
			}
			_ = b.local.Publish(context.Background(), c)
		}
	}
}

// Publish sends the change to the exchange. Local subscribers receive it via
// the consume loop like everyone else, keeping one delivery path.
func (b *RabbitBus) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.pubCh.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}

// Subscribe registers a handler on the merged stream.
func (b *RabbitBus) Subscribe(table string, filter Filter, h Handler) *Subscription {
	return b.local.Subscribe(table, filter, h)
}

// Unsubscribe removes a subscription.
func (b *RabbitBus) Unsubscribe(s *Subscription) {
	b.local.Unsubscribe(s)
}

// Close tears down the AMQP connection.
func (b *RabbitBus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
