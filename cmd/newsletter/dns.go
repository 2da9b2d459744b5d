package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Startup-Consulting-Inc/newsletter/internal/dkim"
	"github.com/Startup-Consulting-Inc/newsletter/internal/dnscheck"
	"github.com/Startup-Consulting-Inc/newsletter/internal/email"
)

var (
	dnsCheckDomain   string
	dnsCheckSelector string
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Sender domain DNS commands",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check SPF, DKIM and DMARC records of the sender domain",
	Long: `Check the sender domain's SPF, DKIM and DMARC records. With a config file the
domain is taken from relay.from and the published DKIM key is compared with relay.dkim.key_file.`,
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVar(&dnsCheckDomain, "domain", "", "Domain to check (default: domain of relay.from)")
	dnsCheckCmd.Flags().StringVar(&dnsCheckSelector, "selector", "", "DKIM selector (default: relay.dkim.selector)")

	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	domain, opts := dnsCheckDomain, dnscheck.Options{Selector: dnsCheckSelector}

	if cfgFile != "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if domain == "" {
			domain = email.ExtractDomain(cfg.Relay.From)
		}
		if dk := cfg.Relay.DKIM; dk.Enabled {
			if opts.Selector == "" {
				opts.Selector = dk.Selector
			}
			key, err := dkim.LoadPrivateKey(dk.KeyFile)
			if err != nil {
				return fmt.Errorf("failed to load DKIM key: %w", err)
			}
			opts.PublicKey, err = (&dkim.KeyPair{PrivateKey: key}).PublicKey()
			if err != nil {
				return err
			}
		}
	}
	if domain == "" {
		return fmt.Errorf("--domain or a config file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := dnscheck.New(nil).Check(ctx, domain, opts)
	if err != nil {
		return err
	}

	fmt.Printf("DNS check for %s\n\n", report.Domain)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAILS")
	fmt.Fprintln(w, "-----\t------\t-------")
	for _, r := range report.Results {
		details := r.Message
		if details == "" {
			details = r.Value
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Status, details)
	}
	w.Flush()

	if !report.OK() {
		return fmt.Errorf("sender domain %s is not fully authenticated", domain)
	}
	return nil
}
