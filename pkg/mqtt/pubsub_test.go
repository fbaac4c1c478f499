package mqtt_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fedguard/pkg/mqtt"
	"github.com/stretchr/testify/assert"
)

func TestRoundsTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fl/rounds/next", mqtt.RoundsTopic("fl"))
	assert.Equal(t, "m/d1/c/c1/rounds/next", mqtt.RoundsTopic("m/d1/c/c1"))
}

func TestNewPubSubRequiresID(t *testing.T) {
	t.Parallel()

	_, err := mqtt.NewPubSub("tcp://localhost:1883", 1, "", "", "", "fl", time.Second, slog.Default())
	assert.Error(t, err)
}
