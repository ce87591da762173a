package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/recalld/recalld/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch of log entries",
		Long:  "Reads JSONL log entries from a file or stdin and runs them through extraction. Re-submitting the same entries is a no-op.",
		Run:   runSubmit,
	}

	cmd.Flags().StringP("source", "s", "", "Source identifier for watermark tracking (required)")
	cmd.Flags().StringP("file", "F", "", "JSONL file to read (default: stdin)")
	cmd.MarkFlagRequired("source")

	RootCmd.AddCommand(cmd)
}

func runSubmit(cmd *cobra.Command, args []string) {
	sourceID, _ := cmd.Flags().GetString("source")
	file, _ := cmd.Flags().GetString("file")

	var in io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			exitErr("open file", err)
		}
		defer f.Close()
		in = f
	}

	entries, skipped, err := readEntries(in)
	if err != nil {
		exitErr("read entries", err)
	}
	if len(entries) == 0 {
		exitErr("submit", fmt.Errorf("no valid entries in input"))
	}

	e, log := openEngine()
	defer e.Close()
	defer log.Sync()

	n, err := e.SubmitBatch(cmd.Context(), sourceID, entries)
	if err != nil {
		exitErr("submit", err)
	}

	out := map[string]int{"committed_count": n, "entries": len(entries), "skipped_lines": skipped}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

// readEntries parses JSONL input, counting rather than failing on bad lines.
func readEntries(r io.Reader) ([]model.LogEntry, int, error) {
	var entries []model.LogEntry
	var skipped int
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.LogEntry
		if err := json.Unmarshal(line, &e); err != nil || e.Text == "" {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, sc.Err()
}
