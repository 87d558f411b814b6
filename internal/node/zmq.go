package node

import (
	"context"
	"fmt"

	zmq "github.com/pebbe/zmq4"

	"github.com/kaspool/core/pkg/log"
)

// ZMQNotifier is an optional accelerator: when a deployment exposes a
// ZMQ-style push endpoint for block-added/DAA-score events, subscribing to
// it lets TemplateService react faster than the node-RPC poll interval.
// §6 only requires the "new-block-template" RPC stream as a hard
// dependency; cmd/poold does not construct this notifier.
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a notifier bound to endpoint. It always creates a
// SUB socket; an empty endpoint is not treated specially.
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	return &ZMQNotifier{socket: socket, endpoint: endpoint, logger: logger.WithComponent("node_zmq")}, nil
}

// Subscribe subscribes to a topic (e.g. "block-added", "chain-changed").
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to node ZMQ topic", "topic", topic)
	return nil
}

// Connect dials the ZMQ endpoint.
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to node ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen polls for messages until ctx is cancelled, invoking handler for
// each (topic, payload) pair received.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting node ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			continue // no message available, or transient recv error
		}
		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		if err := handler(topic, msg[1]); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close releases the ZMQ socket.
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}
