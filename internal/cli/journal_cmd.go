package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crosstap/crosstap/internal/journal"
)

var tailLines int

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalVerifyCmd)
	journalCmd.AddCommand(journalTailCmd)
	journalTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Session journal operations",
	Long:  "Commands for verifying and inspecting the hash-chained session journal.",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a session journal",
	Long:  "Walks the JSONL journal and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalVerify,
}

var journalTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent session journal entries",
	Long:  "Reads the last N entries from the JSONL journal and prints one line per\nentry: timestamp, session, event, detail.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTail,
}

func runJournalVerify(cmd *cobra.Command, args []string) error {
	result := journal.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runJournalTail(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	for _, line := range lines[start:] {
		var entry journal.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Corrupt lines still show; verify is the integrity tool.
			fmt.Println(line)
			continue
		}
		if entry.Detail != "" {
			fmt.Printf("%s  %s  %s  %s\n", entry.Timestamp, entry.Session, entry.Event, entry.Detail)
		} else {
			fmt.Printf("%s  %s  %s\n", entry.Timestamp, entry.Session, entry.Event)
		}
	}

	return nil
}
