package cli

import (
	"strconv"

	"github.com/absmach/fedguard/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	DefTLSVerification        = false
	DefCoordinatorURL         = "http://localhost:7070"
	defOffset          uint64 = 0
	defLimit           uint64 = 10
	withValues                = false
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [list|view]",
		Short: "Round history",
		Long:  `List rounds or view the scores, trust decision and weights of one round.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rounds",
		Long:  `List recorded rounds of the current run.`,
		Run: func(cmd *cobra.Command, _ []string) {
			page, err := fsdk.ListRounds(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <round>",
		Short: "View round",
		Long:  `View a single round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			m, err := fsdk.GetRound(round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, m)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(viewCmd)

	addPageFlags(cmd)

	return cmd
}

func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Global model",
		Long:  `View the round, size and layout of the global model.`,
		Run: func(cmd *cobra.Command, _ []string) {
			m, err := fsdk.GlobalModel(withValues)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, m)
		},
	}

	cmd.Flags().BoolVarP(&withValues, "values", "v", withValues, "Include parameter values")

	return cmd
}

func NewStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Coordinator state",
		Long:  `View the state of the round currently in progress.`,
		Run: func(cmd *cobra.Command, _ []string) {
			state, err := fsdk.State()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, map[string]string{"state": state})
		},
	}
}

func NewNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List clients",
		Long:  `List the clients taking part in the run.`,
		Run: func(cmd *cobra.Command, _ []string) {
			page, err := fsdk.ListNodes(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	addPageFlags(cmd)

	return cmd
}

func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Coordinator health",
		Long:  `Check that the coordinator is reachable.`,
		Run: func(cmd *cobra.Command, _ []string) {
			h, err := fsdk.Health()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, h)
		},
	}
}

func addPageFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)
}
