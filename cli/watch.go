package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/absmach/fedguard/pkg/mqtt"
	"github.com/spf13/cobra"
)

var (
	watchBaseTopic = "fl"
	watchCount     = 0
)

// PubSubFactory connects the watch command to the broker.
type PubSubFactory func() (mqtt.PubSub, error)

var newPubSub PubSubFactory

func SetPubSubFactory(f PubSubFactory) {
	newPubSub = f
}

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch rounds",
		Long:  `Print the summary the coordinator publishes after every round.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if newPubSub == nil {
				logUsageCmd(*cmd, "watch needs --mqtt-url")

				return
			}
			ps, err := newPubSub()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := watch(ctx, *cmd, ps, watchBaseTopic, watchCount); err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}

	cmd.Flags().StringVarP(&watchBaseTopic, "topic", "t", watchBaseTopic, "Base topic the coordinator publishes under")
	cmd.Flags().IntVarP(&watchCount, "count", "n", watchCount, "Exit after this many summaries, 0 waits until interrupted")

	return cmd
}

func watch(ctx context.Context, cmd cobra.Command, ps mqtt.PubSub, baseTopic string, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan mqtt.RoundSummary)
	handler := func(s mqtt.RoundSummary) error {
		select {
		case msgs <- s:
		case <-ctx.Done():
		}

		return nil
	}
	if err := ps.SubscribeRounds(ctx, baseTopic, handler); err != nil {
		return err
	}
	defer func() {
		_ = ps.UnsubscribeRounds(context.WithoutCancel(ctx), baseTopic)
		_ = ps.Disconnect(context.WithoutCancel(ctx))
	}()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			logJSONCmd(cmd, msg)
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}
