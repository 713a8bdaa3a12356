package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"fileshare/internal/client"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultServer() string {
	if s := os.Getenv("FILESHARE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8000"
}

func newRootCommand() *cobra.Command {
	var (
		server string
		expiry time.Duration
		once   bool
	)

	cmd := &cobra.Command{
		Use:   "share <files or directories>...",
		Short: "Upload files and print a share link",
		Long: `share uploads files and directories to a fileshare server and prints the
link to share. Directory structure is kept in the uploaded paths.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiry < time.Second {
				return errors.New("--expiry must be at least 1s")
			}
			return runUpload(cmd.Context(), client.New(server, nil), args, expiry, once)
		},
	}

	cmd.PersistentFlags().StringVarP(&server, "server", "s", defaultServer(), "server URL (env FILESHARE_SERVER)")
	cmd.Flags().DurationVarP(&expiry, "expiry", "e", 24*time.Hour, "how long the share stays available")
	cmd.Flags().BoolVar(&once, "once", false, "delete the share after its first download")

	cmd.AddCommand(newInfoCommand(&server))
	return cmd
}

func newInfoCommand(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info <share id or URL>",
		Short: "Show the files of a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(*server, nil)
			listing, err := c.Listing(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Share %s\n", listing.ShareID)
			fmt.Printf("  created:   %s\n", listing.CreatedAt)
			fmt.Printf("  expires:   %s\n", listing.ExpiryTime)
			fmt.Printf("  size:      %s\n", listing.TotalSize)
			fmt.Printf("  downloads: %d\n", listing.DownloadCount)
			if listing.OneTimeDownload {
				fmt.Println("  one-time download")
			}
			fmt.Println()
			for _, f := range listing.Files {
				fmt.Printf("  %-40s %10s  %s\n", f.OriginalName, f.Size, c.Resolve(f.DownloadURL))
			}
			fmt.Printf("\nAll files: %s\n", c.Resolve(listing.BundleURL))
			return nil
		},
	}
}

func runUpload(ctx context.Context, c *client.Client, args []string, expiry time.Duration, once bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	targets, err := client.ResolveArgs(args)
	if err != nil {
		return err
	}

	tree, err := client.Scan(targets)
	if err != nil {
		return fmt.Errorf("reading files: %w", err)
	}

	entries := tree.Entries()
	if limits, err := c.Limits(ctx); err == nil {
		var skipped []client.Entry
		entries, skipped = client.FilterAllowed(entries, limits.AllowedExtensions)
		for _, e := range skipped {
			fmt.Fprintf(os.Stderr, "skipping %s: file type not allowed\n", e.RelPath)
		}
	}
	if len(entries) == 0 {
		return errors.New("nothing to upload")
	}

	fmt.Printf("Uploading %d file(s), %d bytes...\n", len(entries), client.TotalSize(entries))

	res, err := c.Upload(ctx, client.NewPayload(entries, expiry, once))
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			for _, fe := range apiErr.Errors {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", fe.Filename, fe.Error)
			}
		}
		return err
	}

	for _, fe := range res.Errors {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", fe.Filename, fe.Error)
	}
	fmt.Printf("✓ Shared %d file(s), %s\n", res.FileCount, res.TotalSize)
	fmt.Printf("  Link:    %s\n", res.ShareURL)
	fmt.Printf("  Expires: %s\n", res.ExpiryTime)
	if res.OneTimeDownload {
		fmt.Println("  The link stops working after the first download.")
	}
	return nil
}
