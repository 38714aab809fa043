// Package eval scores retrieval quality against labelled queries.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// Case is a query with the external ids of the chunks that answer it.
type Case struct {
	Query    string   `json:"query"`
	Relevant []string `json:"relevant"`
}

func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(retrieved))
}

func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant id, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	for i, r := range retrieved {
		if set[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func NDCG(scores, ideal []float64) float64 {
	idcg := dcg(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg(scores) / idcg
}

func dcg(scores []float64) float64 {
	var sum float64
	for i, s := range scores {
		sum += s / math.Log2(float64(i+2))
	}
	return sum
}

func hits(retrieved, relevant []string) int {
	set := toSet(relevant)
	n := 0
	for _, r := range retrieved {
		if set[r] {
			n++
		}
	}
	return n
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Report aggregates a run over a set of cases.
type Report struct {
	Queries    int
	Failed     int
	Precision  float64
	Recall     float64
	MRR        float64
	NDCG       float64
	LatencyP50 time.Duration
	LatencyP95 time.Duration
}

// Run searches every case with k results. Cases whose search fails count
// as misses and are reported in Failed.
func Run(ctx context.Context, r port.Retriever, cases []Case, k int) Report {
	rep := Report{Queries: len(cases)}
	if len(cases) == 0 {
		return rep
	}

	latencies := make([]time.Duration, 0, len(cases))
	for _, c := range cases {
		start := time.Now()
		results, err := r.Search(ctx, c.Query, k)
		latencies = append(latencies, time.Since(start))
		if err != nil {
			rep.Failed++
			continue
		}

		ids := resultIDs(results)
		rep.Precision += PrecisionAtK(ids, c.Relevant)
		rep.Recall += RecallAtK(ids, c.Relevant)
		rep.MRR += ReciprocalRank(ids, c.Relevant)
		rep.NDCG += NDCG(gains(ids, c.Relevant), idealGains(len(c.Relevant), k))
	}

	n := float64(len(cases))
	rep.Precision /= n
	rep.Recall /= n
	rep.MRR /= n
	rep.NDCG /= n

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rep.LatencyP50 = percentile(latencies, 0.50)
	rep.LatencyP95 = percentile(latencies, 0.95)
	return rep
}

func resultIDs(results []domain.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

// gains is the binary relevance of each retrieved id.
func gains(ids, relevant []string) []float64 {
	set := toSet(relevant)
	out := make([]float64, len(ids))
	for i, id := range ids {
		if set[id] {
			out[i] = 1
		}
	}
	return out
}

func idealGains(relevant, k int) []float64 {
	out := make([]float64, min(relevant, k))
	for i := range out {
		out[i] = 1
	}
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(idx, 0)]
}

// SelfCases makes one case per chunk with a summary: the summary is the
// query and the chunk itself is the only relevant result.
func SelfCases(records []domain.ChunkRecord, ids []string) []Case {
	cases := make([]Case, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Summary) == "" || i >= len(ids) {
			continue
		}
		cases = append(cases, Case{Query: r.Summary, Relevant: []string{ids[i]}})
	}
	return cases
}

// ReadCases reads JSONL cases, one {"query", "relevant"} object per line.
func ReadCases(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.Query == "" {
			return nil, fmt.Errorf("line %d: empty query", line)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}
