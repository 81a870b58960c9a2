package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facesentry/facesentry/internal/config"
	"github.com/facesentry/facesentry/internal/enroll"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/storage/postgres"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Build the template store from a labeled dataset",
	Long: `Curate identity templates from a dataset directory laid out as one
subdirectory per identity label. Low-quality images are discarded and up
to the configured number of mutually diverse templates is kept per
identity. The result replaces the template store file and, when
DATABASE_URL is set, the database copy.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dataset", "", "Dataset directory (defaults to DATASET_PATH)")
	enrollCmd.Flags().Bool("dry-run", false, "Curate without writing the template store")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.Load()
	ctx := context.Background()

	if dataset := mustGetString(cmd, "dataset"); dataset != "" {
		cfg.Curation.DatasetPath = dataset
	}
	dryRun := mustGetBool(cmd, "dry-run")

	client := extract.NewClient(cfg.Extractor.URL, cfg.Extractor.Dim)
	extractor := extract.NewExtractor(client, cfg.Detector.ConfidenceFloor, cfg.Detector.MinBoxSize)
	curator := enroll.NewCurator(extractor, cfg.Curation, log)

	total, err := curator.CountImages()
	if err != nil {
		return err
	}
	fmt.Printf("Curating %d images from %s\n", total, cfg.Curation.DatasetPath)

	bar := progressbar.Default(int64(total))
	curator.Progress = func() { _ = bar.Add(1) }

	templates, report, err := curator.Run(ctx)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	fmt.Printf("\nCurated %d identities, %d templates\n", report.Labels, report.Templates)
	printRejections(report)

	if dryRun {
		fmt.Println("Dry run, template store not written")
		return nil
	}

	var repo storage.TemplateRepository
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate record store: %w", err)
		}
		repo = postgres.NewTemplateRepository(pool)
	}

	if err := curator.Persist(ctx, templates, nil, cfg.Match.StorePath, repo); err != nil {
		return err
	}
	fmt.Printf("Template store written to %s\n", cfg.Match.StorePath)
	if repo != nil {
		fmt.Println("Templates pushed to database")
	}
	return nil
}

func printRejections(report *enroll.Report) {
	if len(report.Rejected) == 0 {
		return
	}
	reasons := make([]string, 0, len(report.Rejected))
	for reason := range report.Rejected {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	fmt.Println("Rejected images:")
	for _, reason := range reasons {
		fmt.Printf("  %-22s %d\n", reason, report.Rejected[reason])
	}
}
