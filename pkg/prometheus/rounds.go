package prometheus

import (
	"context"

	"github.com/absmach/fedguard/pkg/fl"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// RoundGauges exposes the outcome of the latest round.
type RoundGauges struct {
	rounds   *stdprometheus.CounterVec
	excluded stdprometheus.Gauge
	included stdprometheus.Gauge
	accuracy stdprometheus.Gauge
	loss     stdprometheus.Gauge
}

// NewRoundGauges registers the round collectors on reg. A nil reg uses the
// default registerer.
func NewRoundGauges(namespace string, reg stdprometheus.Registerer) (*RoundGauges, error) {
	if reg == nil {
		reg = stdprometheus.DefaultRegisterer
	}
	g := &RoundGauges{
		rounds: stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "total",
			Help:      "Number of finished rounds by status.",
		}, []string{"status"}),
		excluded: gauge(namespace, "excluded_clients", "Clients excluded from the latest round."),
		included: gauge(namespace, "included_clients", "Clients aggregated in the latest round."),
		accuracy: gauge(namespace, "test_accuracy", "Test accuracy of the latest global model."),
		loss:     gauge(namespace, "test_loss", "Test loss of the latest global model."),
	}
	for _, c := range []stdprometheus.Collector{g.rounds, g.excluded, g.included, g.accuracy, g.loss} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func gauge(namespace, name, help string) stdprometheus.Gauge {
	return stdprometheus.NewGauge(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rounds",
		Name:      name,
		Help:      help,
	})
}

// Notify records m. It never fails so it can sit next to other notifiers.
func (g *RoundGauges) Notify(_ context.Context, m fl.RoundMetrics) error {
	g.rounds.WithLabelValues(string(m.Status)).Inc()
	if m.Status != fl.RoundCompleted {
		return nil
	}
	g.excluded.Set(float64(m.Excluded))
	g.included.Set(float64(m.Decision.IncludedCount()))
	if m.TestMetrics != nil {
		g.accuracy.Set(m.TestMetrics.Accuracy)
		g.loss.Set(m.TestMetrics.Loss)
	}

	return nil
}
