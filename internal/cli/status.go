package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ingestion progress and index health",
		Run:   runStatus,
	}

	cmd.Flags().StringP("source", "s", "", "Restrict to one source")

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	sourceID, _ := cmd.Flags().GetString("source")

	e, log := openEngine()
	defer e.Close()
	defer log.Sync()

	st, err := e.Status(cmd.Context(), sourceID)
	if err != nil {
		exitErr("status", err)
	}

	b, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(b))
}
