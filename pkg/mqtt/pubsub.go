package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connTimeout    = 10
	reconnTimeout  = 1
	disconnTimeout = 250

	roundsTopicTemplate = "%s/rounds/next"
	statusTopicTemplate = "%s/coordinator/status"
	statusTemplate      = `{"status":"%s","client_id":"%s"}`
)

var (
	errPublishTimeout     = errors.New("failed to publish due to timeout reached")
	errSubscribeTimeout   = errors.New("failed to subscribe due to timeout reached")
	errUnsubscribeTimeout = errors.New("failed to unsubscribe due to timeout reached")
	errEmptyTopic         = errors.New("empty topic")
	errEmptyID            = errors.New("empty ID")
)

type pubsub struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// PubSub carries round summaries between the coordinator and its watchers.
type PubSub interface {
	// PublishRound retains the summary on the rounds topic so a watcher
	// joining mid-run sees the latest round first.
	PublishRound(ctx context.Context, baseTopic string, s RoundSummary) error
	SubscribeRounds(ctx context.Context, baseTopic string, handler RoundHandler) error
	UnsubscribeRounds(ctx context.Context, baseTopic string) error
	Disconnect(ctx context.Context) error
}

// NewPubSub connects to the broker. When baseTopic is set, the client reports
// itself online on the status topic and the broker marks it offline if it
// drops.
func NewPubSub(url string, qos byte, id, username, password, baseTopic string, timeout time.Duration, logger *slog.Logger) (PubSub, error) {
	if id == "" {
		return nil, errEmptyID
	}

	client, err := newClient(url, id, username, password, baseTopic, timeout, logger)
	if err != nil {
		return nil, err
	}

	return &pubsub{
		client:  client,
		qos:     qos,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (ps *pubsub) PublishRound(ctx context.Context, baseTopic string, s RoundSummary) error {
	if baseTopic == "" {
		return errEmptyTopic
	}
	if err := s.validate(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	token := ps.client.Publish(RoundsTopic(baseTopic), ps.qos, true, data)
	if token.Error() != nil {
		return token.Error()
	}

	if ok := token.WaitTimeout(ps.timeout); !ok {
		return errPublishTimeout
	}

	return nil
}

func (ps *pubsub) SubscribeRounds(ctx context.Context, baseTopic string, handler RoundHandler) error {
	if baseTopic == "" {
		return errEmptyTopic
	}

	token := ps.client.Subscribe(RoundsTopic(baseTopic), ps.qos, ps.roundHandler(handler))
	if token.Error() != nil {
		return token.Error()
	}
	if ok := token.WaitTimeout(ps.timeout); !ok {
		return errSubscribeTimeout
	}

	return nil
}

func (ps *pubsub) UnsubscribeRounds(ctx context.Context, baseTopic string) error {
	if baseTopic == "" {
		return errEmptyTopic
	}

	token := ps.client.Unsubscribe(RoundsTopic(baseTopic))
	if token.Error() != nil {
		return token.Error()
	}

	if ok := token.WaitTimeout(ps.timeout); !ok {
		return errUnsubscribeTimeout
	}

	return nil
}

func (ps *pubsub) Disconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		ps.client.Disconnect(disconnTimeout)

		return nil
	}
}

func newClient(address, id, username, password, baseTopic string, timeout time.Duration, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(address).
		SetClientID(id).
		SetUsername(username).
		SetPassword(password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout * time.Second).
		SetMaxReconnectInterval(reconnTimeout * time.Minute)

	statusTopic := ""
	if baseTopic != "" {
		statusTopic = fmt.Sprintf(statusTopicTemplate, baseTopic)
		opts.SetWill(statusTopic, fmt.Sprintf(statusTemplate, "offline", id), 0, true)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connection established")
		if statusTopic != "" {
			// Not awaited: the handler runs on the client's own goroutine.
			c.Publish(statusTopic, 0, true, fmt.Sprintf(statusTemplate, "online", id))
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		args := []any{}
		if err != nil {
			args = append(args, slog.Any("error", err))
		}

		logger.Info("MQTT connection lost", args...)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, options *mqtt.ClientOptions) {
		args := []any{}
		if options != nil {
			args = append(args,
				slog.String("client_id", options.ClientID),
				slog.String("username", options.Username),
			)
		}

		logger.Info("MQTT reconnecting", args...)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Error() != nil {
		return nil, errors.Join(errors.New("failed to connect to MQTT broker"), token.Error())
	}

	if ok := token.WaitTimeout(timeout); !ok {
		return nil, errors.New("timeout reached while connecting to MQTT broker")
	}

	return client, nil
}

func (ps *pubsub) roundHandler(h RoundHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		defer m.Ack()

		s, err := DecodeRound(m.Payload())
		if err != nil {
			ps.logger.Warn("Dropped message on rounds topic", slog.String("topic", m.Topic()), slog.Any("error", err))

			return
		}

		if err := h(s); err != nil {
			ps.logger.Warn("Failed to handle round summary", slog.Uint64("round", s.Round), slog.Any("error", err))
		}
	}
}
