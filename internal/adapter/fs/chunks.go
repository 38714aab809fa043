package fs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"docrag/internal/domain"
)

const maxLineBytes = 16 << 20

// ReadChunks reads a JSONL file of {text, summary, source} records.
// Blank lines are ignored; a record without a source is attributed to the
// file itself.
func ReadChunks(path string) ([]domain.ChunkInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []domain.ChunkInput
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var c domain.ChunkInput
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid chunk record: %w", path, line, err)
		}
		if c.Source == "" {
			c.Source = path
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return chunks, nil
}

// ReadAll reads and concatenates the chunks of every file in order.
func ReadAll(files []FileInfo) ([]domain.ChunkInput, error) {
	var all []domain.ChunkInput
	for _, f := range files {
		chunks, err := ReadChunks(f.Path)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}
