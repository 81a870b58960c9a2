// Package enroll builds the template store from a labeled image dataset.
// Each identity gets up to a fixed number of templates chosen for quality
// and mutual diversity.
package enroll

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/config"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/recognition"
	"github.com/facesentry/facesentry/internal/storage"
)

// Extractor is the extraction surface curation needs.
type Extractor interface {
	ExtractLargest(ctx context.Context, imageData []byte, relaxed bool) extract.Result
}

// candidate is one quality-passing training image.
type candidate struct {
	embedding []float32
	quality   float64
	path      string
}

// Report summarizes one curation run.
type Report struct {
	Labels    int
	Templates int
	Rejected  map[string]int // reason code → count
}

// Curator builds label → template mappings from a dataset directory laid
// out as one subdirectory per identity label.
type Curator struct {
	extractor Extractor
	cfg       config.CurationConfig
	log       zerolog.Logger

	// Progress is called once per processed image when set.
	Progress func()
}

// NewCurator creates a curator.
func NewCurator(extractor Extractor, cfg config.CurationConfig, log zerolog.Logger) *Curator {
	return &Curator{
		extractor: extractor,
		cfg:       cfg,
		log:       log.With().Str("component", "enroll").Logger(),
	}
}

// CountImages returns the number of dataset images, for progress reporting.
func (c *Curator) CountImages() (int, error) {
	labels, err := c.labelDirs()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, label := range labels {
		files, err := c.imageFiles(label)
		if err != nil {
			return 0, err
		}
		total += len(files)
	}
	return total, nil
}

// Run curates every identity in the dataset and returns the new template
// mapping alongside a run report.
func (c *Curator) Run(ctx context.Context) (map[string][][]float32, *Report, error) {
	labels, err := c.labelDirs()
	if err != nil {
		return nil, nil, err
	}
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("dataset %s has no identity directories", c.cfg.DatasetPath)
	}

	report := &Report{Rejected: make(map[string]int)}
	templates := make(map[string][][]float32)

	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		candidates, err := c.collect(ctx, label, report)
		if err != nil {
			return nil, nil, err
		}
		if len(candidates) == 0 {
			c.log.Warn().Str("label", label).Msg("no usable training images")
			continue
		}

		selected := selectDiverse(candidates, c.cfg.MaxTemplates, c.cfg.DiversityFloor)
		vectors := make([][]float32, 0, len(selected))
		for _, cand := range selected {
			vectors = append(vectors, cand.embedding)
		}
		templates[label] = vectors
		report.Labels++
		report.Templates += len(vectors)
		c.log.Info().
			Str("label", label).
			Int("candidates", len(candidates)).
			Int("selected", len(vectors)).
			Msg("identity curated")
	}

	return templates, report, nil
}

// Persist writes the curated templates to the store file, pushes them to the
// template repository when one is configured, and reloads the live store.
func (c *Curator) Persist(ctx context.Context, templates map[string][][]float32, store *recognition.Store, storePath string, repo storage.TemplateRepository) error {
	if err := recognition.Write(storePath, templates); err != nil {
		return fmt.Errorf("write template store: %w", err)
	}

	if repo != nil {
		for label, vectors := range templates {
			if err := repo.ReplaceTemplates(ctx, label, vectors); err != nil {
				return fmt.Errorf("push templates for %s: %w", label, err)
			}
		}
	}

	if store != nil {
		if err := store.Reload(); err != nil {
			return fmt.Errorf("reload template store: %w", err)
		}
	}
	return nil
}

// collect extracts embeddings for every training image of one label and
// drops images that fail extraction or score below the quality floor.
func (c *Curator) collect(ctx context.Context, label string, report *Report) ([]candidate, error) {
	files, err := c.imageFiles(label)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, path := range files {
		if c.Progress != nil {
			c.Progress()
		}

		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn().Err(err).Str("file", path).Msg("unreadable training image")
			report.Rejected["unreadable"]++
			continue
		}

		res := c.extractor.ExtractLargest(ctx, data, true)
		if res.Embedding == nil {
			report.Rejected[res.Quality.Reason]++
			continue
		}
		if res.Quality.Score < c.cfg.QualityFloor {
			report.Rejected["below_quality_floor"]++
			continue
		}

		candidates = append(candidates, candidate{
			embedding: recognition.Normalize(res.Embedding),
			quality:   res.Quality.Score,
			path:      path,
		})
	}
	return candidates, nil
}

// selectDiverse picks up to maxTemplates candidates: highest quality first,
// then the next highest-quality candidate whose cosine distance to every
// already-selected template meets the diversity floor. If diversity leaves
// open slots, they are backfilled with the remaining best candidates.
func selectDiverse(candidates []candidate, maxTemplates int, diversityFloor float64) []candidate {
	if maxTemplates < 1 {
		maxTemplates = 1
	}
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].quality > sorted[j].quality
	})

	selected := make([]candidate, 0, maxTemplates)
	used := make([]bool, len(sorted))

	for i, cand := range sorted {
		if len(selected) == maxTemplates {
			break
		}
		if len(selected) == 0 || diverseFrom(cand, selected, diversityFloor) {
			selected = append(selected, cand)
			used[i] = true
		}
	}

	for i, cand := range sorted {
		if len(selected) == maxTemplates {
			break
		}
		if !used[i] {
			selected = append(selected, cand)
			used[i] = true
		}
	}
	return selected
}

func diverseFrom(cand candidate, selected []candidate, floor float64) bool {
	for _, s := range selected {
		if recognition.CosineDistance(cand.embedding, s.embedding) < floor {
			return false
		}
	}
	return true
}

func (c *Curator) labelDirs() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("read dataset directory: %w", err)
	}
	var labels []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			labels = append(labels, e.Name())
		}
	}
	sort.Strings(labels)
	return labels, nil
}

func (c *Curator) imageFiles(label string) ([]string, error) {
	dir := filepath.Join(c.cfg.DatasetPath, label)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read identity directory %s: %w", label, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
