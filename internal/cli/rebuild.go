package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the record store",
		Long:  "Re-derives every vector entry in a namespace from the record store. Use after status reports drift.",
		Run:   runRebuild,
	}

	cmd.Flags().StringP("ns", "n", "", "Namespace (default: configured namespace)")

	RootCmd.AddCommand(cmd)
}

func runRebuild(cmd *cobra.Command, args []string) {
	ns, _ := cmd.Flags().GetString("ns")

	e, log := openEngine()
	defer e.Close()
	defer log.Sync()

	n, err := e.Rebuild(cmd.Context(), ns)
	if err != nil {
		exitErr("rebuild", err)
	}

	b, _ := json.MarshalIndent(map[string]int{"indexed": n}, "", "  ")
	fmt.Println(string(b))
}
