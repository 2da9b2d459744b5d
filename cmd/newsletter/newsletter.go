package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/api"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
)

var (
	apiURL         string
	apiKey         string
	listStatus     string
	scheduleAt     string
	scheduleIn     time.Duration
	requestTimeout time.Duration
)

var newsletterCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Newsletter commands against a running service",
}

var newsletterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List newsletters",
	RunE:  runNewsletterList,
}

var newsletterShowCmd = &cobra.Command{
	Use:   "show <newsletter_id>",
	Short: "Show newsletter status and statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsletterShow,
}

var newsletterSendCmd = &cobra.Command{
	Use:   "send <newsletter_id>",
	Short: "Send a newsletter now",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsletterSend,
}

var newsletterScheduleCmd = &cobra.Command{
	Use:   "schedule <newsletter_id>",
	Short: "Schedule a newsletter",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsletterSchedule,
}

func init() {
	newsletterCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Service base URL")
	newsletterCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("NEWSLETTER_API_KEY"), "API key (default $NEWSLETTER_API_KEY)")
	newsletterCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Minute, "Request timeout")

	newsletterListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (draft, scheduled, sending, sent, paused)")

	newsletterScheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "Send time (RFC 3339)")
	newsletterScheduleCmd.Flags().DurationVar(&scheduleIn, "in", 0, "Send after this duration")

	newsletterCmd.AddCommand(newsletterListCmd, newsletterShowCmd, newsletterSendCmd, newsletterScheduleCmd)
	rootCmd.AddCommand(newsletterCmd)
}

func runNewsletterList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/newsletters"
	if listStatus != "" {
		path += "?status=" + listStatus
	}

	var list []models.Newsletter
	if err := callAPI(cmd.Context(), http.MethodGet, path, nil, &list); err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No newsletters")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSUBJECT\tSCHEDULED\tSENT\tOPENS\tCLICKS")
	fmt.Fprintln(w, "--\t------\t-------\t---------\t----\t-----\t------")
	for _, n := range list {
		scheduled := "-"
		if n.ScheduledAt != nil {
			scheduled = n.ScheduledAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			n.ID, n.Status, truncate(n.Subject, 30), scheduled,
			n.Stats.Sent, n.Stats.UniqueOpened, n.Stats.UniqueClicked)
	}
	w.Flush()
	return nil
}

func runNewsletterShow(cmd *cobra.Command, args []string) error {
	var n models.Newsletter
	if err := callAPI(cmd.Context(), http.MethodGet, "/api/v1/newsletters/"+args[0], nil, &n); err != nil {
		return err
	}

	fmt.Printf("Newsletter: %s\n\n", n.ID)
	fmt.Printf("Subject:   %s\n", n.Subject)
	fmt.Printf("Status:    %s\n", n.Status)
	fmt.Printf("Groups:    %s\n", strings.Join(n.GroupIDs, ", "))
	if n.ScheduledAt != nil {
		fmt.Printf("Scheduled: %s\n", n.ScheduledAt.Format(time.RFC3339))
	}
	if n.SentAt != nil {
		fmt.Printf("Sent at:   %s\n", n.SentAt.Format(time.RFC3339))
	}
	fmt.Printf("Attempts:  %d\n", n.SendAttempts)
	fmt.Printf("\nStatistics:\n")
	fmt.Printf("  Sent:    %d\n", n.Stats.Sent)
	fmt.Printf("  Bounced: %d\n", n.Stats.Bounced)
	fmt.Printf("  Opens:   %d (%d unique)\n", n.Stats.Opened, n.Stats.UniqueOpened)
	fmt.Printf("  Clicks:  %d (%d unique)\n", n.Stats.Clicked, n.Stats.UniqueClicked)
	return nil
}

func runNewsletterSend(cmd *cobra.Command, args []string) error {
	var resp api.SendResponse
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/v1/newsletters/"+args[0]+"/send", nil, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Message)
	for _, e := range resp.Errors {
		fmt.Printf("  %s: %s\n", e.Email, e.Error)
	}
	return nil
}

func runNewsletterSchedule(cmd *cobra.Command, args []string) error {
	var at time.Time
	switch {
	case scheduleAt != "":
		t, err := time.Parse(time.RFC3339, scheduleAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	case scheduleIn > 0:
		at = time.Now().Add(scheduleIn)
	default:
		return fmt.Errorf("one of --at or --in is required")
	}

	var n models.Newsletter
	req := api.ScheduleRequest{ScheduledAt: at.UTC().Format(time.RFC3339)}
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/v1/newsletters/"+args[0]+"/schedule", req, &n); err != nil {
		return err
	}

	fmt.Printf("Newsletter %s scheduled for %s\n", n.ID, n.ScheduledAt.Format(time.RFC3339))
	return nil
}

// callAPI performs an authenticated JSON request against the service
func callAPI(ctx context.Context, method, path string, body, out any) error {
	if apiKey == "" {
		return fmt.Errorf("API key is required (use --api-key or NEWSLETTER_API_KEY)")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("request failed: %s", resp.Status)
		}
		return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
