package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/doorbell-identify/internal/config"
	"github.com/kozaktomas/doorbell-identify/internal/facerec"
	"github.com/kozaktomas/doorbell-identify/internal/identify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify [new-images-path] [known-visitors-path]",
	Short: "Identify faces in a capture directory",
	Long: `Identify runs a single identification against a directory of captured
images and a library of known visitors, without starting the server.
Only visitors named with --allow are considered.`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().StringSlice("allow", nil, "Visitor IDs allowed to match (repeatable)")
	identifyCmd.Flags().Float64("tolerance", 0, "Face distance tolerance (overrides FACE_TOLERANCE)")
	identifyCmd.Flags().Bool("json", false, "Print the raw JSON result")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	newImagesPath := args[0]
	knownVisitorsPath := args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	allowedIDs := mustGetStringSlice(cmd, "allow")
	tolerance := cfg.Face.Tolerance
	if t := mustGetFloat64(cmd, "tolerance"); t > 0 {
		tolerance = t
	}
	jsonOutput := mustGetBool(cmd, "json")

	provider := facerec.NewClient(cfg.Face.URL, cfg.Face.Model)
	service := identify.NewService(provider, tolerance, cfg.Face.MaxImageSize)
	ctx := cmd.Context()

	// Load enrollments one visitor at a time so the bar tracks real work.
	bar := progressbar.NewOptions(len(allowedIDs),
		progressbar.OptionSetDescription("Loading known visitors"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("visitors"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var known []identify.Enrollment
	for _, id := range allowedIDs {
		enrollments, err := service.LoadAllowedEnrollments(ctx, knownVisitorsPath, []string{id})
		if err != nil {
			return fmt.Errorf("loading visitor %q: %w", id, err)
		}
		known = append(known, enrollments...)
		bar.Add(1)
	}
	fmt.Printf("\nLoaded %d enrolled faces for %d visitors\n", len(known), len(allowedIDs))

	result, err := service.IdentifyFromProbes(ctx, newImagesPath, known)
	if err != nil {
		return fmt.Errorf("identification failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Identification: %s\n", result.Identification)
	if result.Reason != "" {
		fmt.Printf("Reason: %s\n", result.Reason)
	}
	if result.MatchedFile != "" {
		fmt.Printf("Matched file: %s\n", result.MatchedFile)
	}
	return nil
}
