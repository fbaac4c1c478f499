package coordinator

import (
	"context"
	"errors"

	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/mqtt"
)

type mqttNotifier struct {
	pubsub    mqtt.PubSub
	baseTopic string
}

func NewMQTTNotifier(pubsub mqtt.PubSub, baseTopic string) Notifier {
	return &mqttNotifier{
		pubsub:    pubsub,
		baseTopic: baseTopic,
	}
}

func (n *mqttNotifier) Notify(ctx context.Context, m fl.RoundMetrics) error {
	return n.pubsub.PublishRound(ctx, n.baseTopic, mqtt.Summarize(m))
}

type notifiers []Notifier

// Notifiers fans a round out to every non-nil notifier and joins their
// errors.
func Notifiers(ns ...Notifier) Notifier {
	var out notifiers
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}

	return out
}

func (ns notifiers) Notify(ctx context.Context, m fl.RoundMetrics) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
