package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search captured memory",
		Long:  "Answers a query through the tiered search: vector similarity, then the remote service, then a local keyword scan.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().StringP("ns", "n", "", "Namespace (default: configured namespace)")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default: configured limit)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tag filter")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	ns, _ := cmd.Flags().GetString("ns")
	limit, _ := cmd.Flags().GetInt("limit")
	tagsStr, _ := cmd.Flags().GetString("tags")

	var tags []string
	for _, t := range strings.Split(tagsStr, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	e, log := openEngine()
	defer e.Close()
	defer log.Sync()

	results, err := e.Recall(cmd.Context(), ns, strings.Join(args, " "), limit, tags)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
