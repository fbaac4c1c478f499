package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/absmach/fedguard"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/storage"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

const filePermission = 0o644

var (
	initDefaults = false
	initForce    = false

	errFileExists = errors.New("config file already exists, use --force to overwrite")
)

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a run configuration",
		Long: `Write a run configuration file. The format follows the extension, YAML for .yaml and .yml, TOML otherwise.

Examples:
  # Answer a few questions
  fedguard-cli init run.toml

  # Write the defaults
  fedguard-cli init run.yaml --defaults`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			path := args[0]

			if _, err := os.Stat(path); err == nil && !initForce {
				logErrorCmd(*cmd, errFileExists)

				return
			}

			cfg := fedguard.DefaultConfig()
			if !initDefaults {
				if err := configForm(&cfg).Run(); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
			}

			if err := writeConfig(cfg, path); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, fmt.Sprintf("Successfully wrote %s", path))
		},
	}

	cmd.Flags().BoolVar(&initDefaults, "defaults", initDefaults, "Skip the questions and write the defaults")
	cmd.Flags().BoolVarP(&initForce, "force", "f", initForce, "Overwrite an existing file")

	return cmd
}

func writeConfig(cfg fedguard.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := cfg.Marshal(path)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, filePermission)
}

func configForm(cfg *fedguard.Config) *huh.Form {
	rounds := strconv.FormatUint(cfg.Run.Rounds, 10)
	clients := strconv.Itoa(cfg.Run.Clients)
	byzantine := strconv.Itoa(cfg.Simulation.Byzantine)

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Rounds").
				Value(&rounds).
				Validate(func(s string) error {
					n, err := strconv.ParseUint(s, 10, 64)
					if err != nil || n == 0 {
						return errors.New("rounds must be a positive number")
					}
					cfg.Run.Rounds = n

					return nil
				}),
			huh.NewInput().
				Title("Clients").
				Value(&clients).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return errors.New("clients must be a positive number")
					}
					cfg.Run.Clients = n

					return nil
				}),
			huh.NewInput().
				Title("Byzantine clients").
				Value(&byzantine).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 {
						return errors.New("byzantine clients must not be negative")
					}
					cfg.Simulation.Byzantine = n

					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Anomaly score").
				Options(huh.NewOptions(fl.ScoreMedian, fl.ScoreMean, fl.ScoreCosine)...).
				Value(&cfg.Defense.Scorer),
			huh.NewSelect[string]().
				Title("Threshold").
				Options(huh.NewOptions(fl.ThresholdMAD, fl.ThresholdGap, fl.ThresholdSigma)...).
				Value(&cfg.Defense.Thresholder),
			huh.NewSelect[string]().
				Title("Weighting").
				Options(huh.NewOptions(fl.WeightUniform, fl.WeightInverseScore)...).
				Value(&cfg.Defense.Weighting),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("History storage").
				Options(huh.NewOptions(storage.TypeMemory, storage.TypeFile, storage.TypeSQLite, storage.TypePostgres, storage.TypeBadger)...).
				Value(&cfg.Storage.Type),
			huh.NewInput().
				Title("MQTT broker URL").
				Description("Leave empty to disable round notifications.").
				Value(&cfg.MQTT.URL),
		),
	)
}
