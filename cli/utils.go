package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

// RawOutput disables colored JSON, which is easier to pipe into other tools.
var RawOutput = false

func logJSONCmd(cmd cobra.Command, iList ...any) {
	for _, i := range iList {
		m, err := json.Marshal(i)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}

		if RawOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", m)

			continue
		}

		pj, err := prettyjson.Format(m)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", string(pj))
	}
}

func logUsageCmd(cmd cobra.Command, u string) {
	fmt.Fprint(cmd.OutOrStdout(), color.YellowString("\nusage: %s\n\n", u))
}

func logErrorCmd(cmd cobra.Command, err error) {
	boldRed := color.New(color.FgRed, color.Bold)
	boldRed.Fprintf(cmd.ErrOrStderr(), "\nerror: ")
	fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", color.RedString(err.Error()))
}

func logSuccessCmd(cmd cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", color.GreenString(msg))
}
