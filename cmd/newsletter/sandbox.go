package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
)

var (
	sandboxNewsletterID string
	sandboxListLimit    int
	sandboxShowFormat   string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect messages captured by the sandbox relay",
	Long:  `Inspect captured messages. Opens the database directly, so the service must be stopped.`,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show captured message details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxExportCmd = &cobra.Command{
	Use:   "export <message_id>",
	Short: "Export captured message to an .eml file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxExport,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear captured messages",
	RunE:  runSandboxClear,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxNewsletterID, "newsletter", "", "Filter by newsletter ID")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")

	sandboxShowCmd.Flags().StringVar(&sandboxShowFormat, "format", "text", "Output format (text, raw)")

	sandboxClearCmd.Flags().StringVar(&sandboxNewsletterID, "newsletter", "", "Clear only for specific newsletter")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxExportCmd, sandboxClearCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openStore() (*storage.BoltStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.Path)
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	messages, err := store.ListCaptured(context.Background(), storage.SandboxFilter{
		NewsletterID: sandboxNewsletterID,
		Limit:        sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNEWSLETTER\tTO\tSUBJECT\tSIZE\tCAPTURED\tERROR")
	fmt.Fprintln(w, "--\t----------\t--\t-------\t----\t--------\t-----")

	for _, msg := range messages {
		errText := "-"
		if msg.SimulatedErr != "" {
			errText = msg.SimulatedErr
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(msg.ID),
			truncateID(msg.NewsletterID),
			truncate(strings.Join(msg.To, ", "), 30),
			truncate(msg.Subject, 30),
			msg.Size,
			msg.CapturedAt.Format("2006-01-02 15:04"),
			errText,
		)
	}

	w.Flush()

	total, err := store.CountCaptured(context.Background(), sandboxNewsletterID)
	if err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}
	fmt.Printf("\nShowing %d of %d messages\n", len(messages), total)
	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	msg, err := store.GetCaptured(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	if sandboxShowFormat == "raw" {
		fmt.Println(string(msg.Data))
		return nil
	}

	fmt.Printf("Message: %s\n\n", msg.ID)
	fmt.Printf("Newsletter: %s\n", msg.NewsletterID)
	fmt.Printf("Recipient:  %s\n", msg.RecipientID)
	fmt.Printf("From:       %s\n", msg.From)
	fmt.Printf("To:         %s\n", strings.Join(msg.To, ", "))
	fmt.Printf("Subject:    %s\n", msg.Subject)
	fmt.Printf("Captured:   %s\n", msg.CapturedAt.Format(time.RFC3339))
	if msg.SimulatedErr != "" {
		fmt.Printf("\nSimulated Error: %s\n", msg.SimulatedErr)
	}

	if len(msg.Data) > 0 {
		fmt.Println("\nMessage Data:")
		fmt.Println("---")
		preview := string(msg.Data)
		if len(preview) > 1000 {
			preview = preview[:1000] + "\n... (truncated, use --format raw for full message)"
		}
		fmt.Println(preview)
		fmt.Println("---")
	}
	return nil
}

func runSandboxExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	msg, err := store.GetCaptured(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	filename := fmt.Sprintf("%s.eml", msg.ID)
	if err := os.WriteFile(filename, msg.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Printf("Message exported to: %s\n", filename)
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.ClearCaptured(context.Background(), sandboxNewsletterID)
	if err != nil {
		return fmt.Errorf("failed to clear sandbox: %w", err)
	}

	if sandboxNewsletterID != "" {
		fmt.Printf("Cleared %d messages for newsletter %s\n", count, sandboxNewsletterID)
	} else {
		fmt.Printf("Cleared %d messages from sandbox\n", count)
	}
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
