package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// ErrStoreNotFound is returned by Load when the template store file does not
// exist. Callers that want to run with an empty store map it via Open.
var ErrStoreNotFound = errors.New("template store file not found")

const (
	storeFileVersion = 1

	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// shortlistMinLabels is the store size above which matching consults the
	// ANN index to shortlist labels instead of scanning every one.
	shortlistMinLabels = 24

	// shortlistNeighbors is how many nearest template nodes are pulled from
	// the index when shortlisting.
	shortlistNeighbors = 32
)

// storeFile is the persisted template store format: a versioned JSON mapping
// from identity label to its template vectors.
type storeFile struct {
	Version   int                    `json:"version"`
	SavedAt   time.Time              `json:"saved_at"`
	Templates map[string][][]float32 `json:"templates"`
}

// snapshot is one immutable view of the template store. Matches read a single
// snapshot for their whole computation, so a concurrent reload can never hand
// them a partial mix of old and new templates.
type snapshot struct {
	templates map[string][][]float32
	labels    []string // sorted, fixes iteration order for tie-breaking
	graph     *hnsw.Graph[int]
	nodeLabel map[int]string
}

// Store holds the enrolled identity templates. The snapshot pointer is
// swapped wholesale on reload; it is never mutated in place.
type Store struct {
	mu   sync.RWMutex
	path string
	snap *snapshot
}

// Load reads a template store from disk. Every raw vector is L2-normalized;
// empty and zero-norm vectors are discarded, and labels left with no
// surviving vectors are dropped entirely. Returns ErrStoreNotFound if the
// file does not exist.
func Load(path string) (*Store, error) {
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, snap: snap}, nil
}

// Open is like Load but maps a missing file to an empty store, so the system
// runs with zero enrollable matches instead of failing.
func Open(path string) (*Store, error) {
	s, err := Load(path)
	if errors.Is(err, ErrStoreNotFound) {
		return &Store{path: path, snap: buildSnapshot(nil)}, nil
	}
	return s, err
}

func loadSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("reading template store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing template store: %w", err)
	}

	return buildSnapshot(f.Templates), nil
}

func buildSnapshot(raw map[string][][]float32) *snapshot {
	templates := make(map[string][][]float32, len(raw))
	for label, vectors := range raw {
		cleaned := make([][]float32, 0, len(vectors))
		for _, v := range vectors {
			if len(v) == 0 || Norm(v) <= zeroNormEpsilon {
				continue
			}
			cleaned = append(cleaned, Normalize(v))
		}
		if len(cleaned) > 0 {
			templates[label] = cleaned
		}
	}

	labels := make([]string, 0, len(templates))
	for label := range templates {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	snap := &snapshot{
		templates: templates,
		labels:    labels,
		nodeLabel: make(map[int]string),
	}

	// The ANN index only pays off once the gallery is large; small stores are
	// scanned exactly.
	if len(labels) >= shortlistMinLabels {
		g := hnsw.NewGraph[int]()
		g.M = hnswMaxNeighbors
		g.Ml = 1.0 / float64(hnswMaxNeighbors)
		g.Distance = hnsw.CosineDistance

		id := 0
		for _, label := range labels {
			for _, v := range templates[label] {
				g.Add(hnsw.MakeNode(id, v))
				snap.nodeLabel[id] = label
				id++
			}
		}
		snap.graph = g
	}

	return snap
}

// shortlist returns the labels worth scoring exactly for this query. With no
// index built it returns every label; otherwise it returns the sorted set of
// labels owning the nearest template nodes.
func (s *snapshot) shortlist(query []float32) []string {
	if s.graph == nil {
		return s.labels
	}

	neighbors := s.graph.Search(query, shortlistNeighbors)
	seen := make(map[string]bool, len(neighbors))
	for _, n := range neighbors {
		seen[s.nodeLabel[n.Key]] = true
	}

	labels := make([]string, 0, len(seen))
	for _, label := range s.labels {
		if seen[label] {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return s.labels
	}
	return labels
}

// Reload re-reads the store from disk and swaps it in atomically. In-flight
// matches keep their old snapshot; new matches observe the new store in full.
func (s *Store) Reload() error {
	snap, err := loadSnapshot(s.path)
	if errors.Is(err, ErrStoreNotFound) {
		snap = buildSnapshot(nil)
	} else if err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Replace swaps in a freshly built template mapping without touching disk.
// Used by curation after it has persisted the new store file.
func (s *Store) Replace(templates map[string][][]float32) {
	snap := buildSnapshot(templates)
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// snapshot returns the current immutable view.
func (s *Store) snapshot() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Labels returns the enrolled labels in sorted order.
func (s *Store) Labels() []string {
	snap := s.snapshot()
	out := make([]string, len(snap.labels))
	copy(out, snap.labels)
	return out
}

// Len returns the number of enrolled labels.
func (s *Store) Len() int {
	return len(s.snapshot().labels)
}

// TemplateCount returns the total number of stored template vectors.
func (s *Store) TemplateCount() int {
	snap := s.snapshot()
	n := 0
	for _, vectors := range snap.templates {
		n += len(vectors)
	}
	return n
}

// Templates returns the stored vectors for one label, or nil.
func (s *Store) Templates(label string) [][]float32 {
	return s.snapshot().templates[label]
}

// Write persists a label → templates mapping as the store file at path.
func Write(path string, templates map[string][][]float32) error {
	f := storeFile{
		Version:   storeFileVersion,
		SavedAt:   time.Now().UTC(),
		Templates: templates,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding template store: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing template store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing template store: %w", err)
	}
	return nil
}
