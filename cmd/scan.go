package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facesentry/facesentry/internal/analyze"
	"github.com/facesentry/facesentry/internal/config"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/recognition"
)

var scanCmd = &cobra.Command{
	Use:   "scan <media-file>",
	Short: "Match a media file against the template store",
	Long: `Run whole-file recognition over an image, animated GIF, or MJPEG
clip and print the identities confirmed across its frames.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	store, err := recognition.Load(cfg.Match.StorePath)
	if err != nil {
		return fmt.Errorf("load template store: %w", err)
	}
	fmt.Printf("Template store: %d identities, %d templates\n", store.Len(), store.TemplateCount())

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read media file: %w", err)
	}

	client := extract.NewClient(cfg.Extractor.URL, cfg.Extractor.Dim)
	extractor := extract.NewExtractor(client, cfg.Detector.ConfidenceFloor, cfg.Detector.MinBoxSize)
	matcher := recognition.NewMatcher(store, cfg.Match.Threshold, cfg.Match.TopK, cfg.Match.MinConfidence)
	analyzer := analyze.New(extractor, matcher, cfg.Curation.UploadMinHits)

	result, err := analyzer.Analyze(context.Background(), data)
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d frames, %d faces\n", result.FramesScanned, result.FacesSeen)
	if len(result.Matches) == 0 {
		fmt.Println("No enrolled identity confirmed")
		return nil
	}
	for _, match := range result.Matches {
		fmt.Printf("  %-24s confidence %.1f%% (%d frames)\n", match.FaceLabel, match.Confidence, match.Hits)
	}
	return nil
}
