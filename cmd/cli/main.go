package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/absmach/fedguard"
	"github.com/absmach/fedguard/cli"
	"github.com/absmach/fedguard/pkg/mqtt"
	"github.com/absmach/fedguard/pkg/sdk"
	"github.com/spf13/cobra"
)

const defMQTTClientID = "fedguard-cli"

func main() {
	var (
		coordinatorURL = cli.DefCoordinatorURL
		tlsVerify      = cli.DefTLSVerification
		mqttURL        string
		mqttUser       string
		mqttPass       string
	)

	rootCmd := &cobra.Command{
		Use:   "fedguard-cli",
		Short: "FedGuard CLI",
		Long:  `FedGuard CLI is a command line interface for inspecting a federated learning run and its Byzantine defense decisions.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerify,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)

			if mqttURL == "" {
				return
			}
			cli.SetPubSubFactory(func() (mqtt.PubSub, error) {
				logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
				timeout := fedguard.DefaultMQTTTimeout * time.Second

				return mqtt.NewPubSub(mqttURL, 1, defMQTTClientID, mqttUser, mqttPass, "", timeout, logger)
			})
		},
	}

	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "coordinator-url", "u", coordinatorURL, "Coordinator HTTP URL")
	rootCmd.PersistentFlags().BoolVar(&tlsVerify, "tls-verify", tlsVerify, "Verify the coordinator TLS certificate")
	rootCmd.PersistentFlags().BoolVarP(&cli.RawOutput, "raw", "r", cli.RawOutput, "Print compact uncolored JSON")
	rootCmd.PersistentFlags().StringVar(&mqttURL, "mqtt-url", "", "MQTT broker URL used by watch")
	rootCmd.PersistentFlags().StringVar(&mqttUser, "mqtt-username", "", "MQTT username")
	rootCmd.PersistentFlags().StringVar(&mqttPass, "mqtt-password", "", "MQTT password")

	rootCmd.AddCommand(
		cli.NewRoundsCmd(),
		cli.NewModelCmd(),
		cli.NewStateCmd(),
		cli.NewNodesCmd(),
		cli.NewHealthCmd(),
		cli.NewWatchCmd(),
		cli.NewInitCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
