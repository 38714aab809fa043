package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docrag/internal/port"
)

// ErrNoIndex means no complete, consistent unit exists at the location.
var ErrNoIndex = errors.New("no index found")

const (
	currentFile    = "CURRENT"
	detailFile     = "detail.idx"
	summaryFile    = "summary.idx"
	metadataFile   = "metadata.db"
	generationPref = "gen-"
)

// Unit is the persisted form of an index: two vector indexes, the chunk
// store and a manifest, all sharing one position space.
type Unit struct {
	Detail   port.VectorIndex
	Summary  port.VectorIndex
	Chunks   *ChunkStore
	Manifest Manifest
}

// IndexFactory creates an empty index matching a stored manifest.
type IndexFactory func(m Manifest) (port.VectorIndex, error)

// SaveUnit writes u into a fresh generation directory under root and then
// switches CURRENT to it. Readers never observe a partially written unit.
func SaveUnit(root string, u *Unit) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create index dir: %w", err)
	}

	gen := generationPref + uuid.NewString()
	dir := filepath.Join(root, gen)
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create generation dir: %w", err)
	}

	if err := writeGeneration(dir, u); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	if err := writeFileSync(filepath.Join(root, currentFile), []byte(gen+"\n")); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to update %s: %w", currentFile, err)
	}
	syncDir(root)

	pruneGenerations(root, gen)
	return gen, nil
}

func writeGeneration(dir string, u *Unit) error {
	if err := writeIndexFile(filepath.Join(dir, detailFile), u.Detail); err != nil {
		return fmt.Errorf("failed to write detail index: %w", err)
	}
	if err := writeIndexFile(filepath.Join(dir, summaryFile), u.Summary); err != nil {
		return fmt.Errorf("failed to write summary index: %w", err)
	}

	db, err := NewBoltStore(filepath.Join(dir, metadataFile))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PutChunks(u.Chunks); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	if err := db.PutManifest(u.Manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func writeIndexFile(path string, idx port.VectorIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := idx.Save(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeFileSync replaces path atomically via a synced temp file.
func writeFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

func pruneGenerations(root, keep string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), generationPref) && e.Name() != keep {
			os.RemoveAll(filepath.Join(root, e.Name()))
		}
	}
}

// CurrentGeneration returns the generation CURRENT points at.
func CurrentGeneration(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoIndex
		}
		return "", err
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, generationPref) || strings.ContainsAny(gen, `/\`) || gen == generationPref {
		return "", fmt.Errorf("%w: invalid %s contents", ErrNoIndex, currentFile)
	}
	return gen, nil
}

// LoadUnit reads the current generation under root. Missing files, a
// missing manifest or any disagreement in counts or dimensions between
// the parts yields ErrNoIndex.
func LoadUnit(root string, factory IndexFactory) (*Unit, error) {
	gen, err := CurrentGeneration(root)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, gen)

	for _, name := range []string{detailFile, summaryFile, metadataFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("%w: %s missing in %s", ErrNoIndex, name, gen)
		}
	}

	db, err := OpenBoltStoreReadOnly(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIndex, err)
	}
	defer db.Close()

	manifest, err := db.GetManifest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIndex, err)
	}
	chunks, err := db.Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIndex, err)
	}

	detail, err := readIndexFile(filepath.Join(dir, detailFile), manifest, factory)
	if err != nil {
		return nil, fmt.Errorf("%w: detail index: %v", ErrNoIndex, err)
	}
	summary, err := readIndexFile(filepath.Join(dir, summaryFile), manifest, factory)
	if err != nil {
		return nil, fmt.Errorf("%w: summary index: %v", ErrNoIndex, err)
	}

	u := &Unit{Detail: detail, Summary: summary, Chunks: chunks, Manifest: manifest}
	if err := u.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIndex, err)
	}
	return u, nil
}

func readIndexFile(path string, m Manifest, factory IndexFactory) (port.VectorIndex, error) {
	idx, err := factory(m)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := idx.Load(bufio.NewReader(f)); err != nil {
		return nil, err
	}
	return idx, nil
}

func (u *Unit) validate() error {
	m := u.Manifest
	if u.Chunks.Len() != m.Count {
		return fmt.Errorf("metadata has %d chunks, manifest says %d", u.Chunks.Len(), m.Count)
	}
	if u.Detail.Len() != m.Count || u.Summary.Len() != m.Count {
		return fmt.Errorf("index sizes %d/%d do not match %d chunks", u.Detail.Len(), u.Summary.Len(), m.Count)
	}
	if u.Detail.Dimension() != m.Dimension || u.Summary.Dimension() != m.Dimension {
		return fmt.Errorf("index dimension does not match manifest dimension %d", m.Dimension)
	}
	return nil
}

type exportDoc struct {
	Chunks   []exportChunk `json:"chunks"`
	ChunkIDs []string      `json:"chunk_ids"`
}

type exportChunk struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

// ExportJSON writes the chunk store as a JSON document with parallel
// "chunks" and "chunk_ids" arrays.
func ExportJSON(w io.Writer, chunks *ChunkStore) error {
	doc := exportDoc{
		Chunks:   make([]exportChunk, 0, chunks.Len()),
		ChunkIDs: chunks.IDs(),
	}
	for _, r := range chunks.Records() {
		doc.Chunks = append(doc.Chunks, exportChunk{Text: r.Text, Source: r.Source, Summary: r.Summary})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
