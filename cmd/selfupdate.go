package cmd

import (
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const releaseRepository = "giantswarm/mcp-client"

func newSelfUpdateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "self-update",
		Short: "Update mcp-client to the latest release",
		Long: `Checks GitHub for the latest mcp-client release and replaces the running
binary with it. Release assets are verified against the published checksums.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
			if err != nil {
				return fmt.Errorf("failed to create release source: %w", err)
			}
			updater, err := selfupdate.NewUpdater(selfupdate.Config{
				Source:    source,
				Validator: &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
			})
			if err != nil {
				return fmt.Errorf("failed to create updater: %w", err)
			}

			latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(releaseRepository))
			if err != nil {
				return fmt.Errorf("failed to detect latest release: %w", err)
			}
			if !found {
				return fmt.Errorf("no release found for %s", releaseRepository)
			}

			if version != "dev" && latest.LessOrEqual(version) {
				fmt.Fprintf(out, "mcp-client %s is up to date\n", version)
				return nil
			}

			fmt.Fprintf(out, "Latest release: %s (current: %s)\n", latest.Version(), version)
			if checkOnly {
				return nil
			}

			exe, err := selfupdate.ExecutablePath()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}
			if err := updater.UpdateTo(ctx, latest, exe); err != nil {
				return fmt.Errorf("update failed: %w", err)
			}

			fmt.Fprintf(out, "Updated to %s\n", latest.Version())
			if notes := latest.ReleaseNotes; notes != "" {
				fmt.Fprintf(out, "\nRelease notes:\n%s\n", notes)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether a newer release exists")
	return cmd
}
