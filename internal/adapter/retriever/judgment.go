package retriever

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoJudgments means the judgment text contained no [index, score] pairs.
var ErrNoJudgments = errors.New("no relevance judgments in response")

var judgmentPair = regexp.MustCompile(`\[\s*(\d+)\s*,\s*(-?\d+(?:\.\d+)?)\s*\]`)

// Judgment is one relevance verdict: a 1-based candidate index and a score.
type Judgment struct {
	Index int
	Score float64
}

// ParseJudgment extracts [index, score] pairs from free-form model output.
// The span between the first '[' and the last ']' is tried as a JSON array
// of pairs; if that yields nothing, pairs are scanned with a pattern.
// Pairs scoring at or below threshold are dropped and the rest sorted by
// descending score. ErrNoJudgments is returned only when no pair at all
// could be read.
func ParseJudgment(text string, threshold float64) ([]Judgment, error) {
	pairs := parseJSONPairs(text)
	if len(pairs) == 0 {
		pairs = scanPairs(text)
	}
	if len(pairs) == 0 {
		return nil, ErrNoJudgments
	}

	kept := make([]Judgment, 0, len(pairs))
	for _, p := range pairs {
		if p.Score > threshold {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return kept, nil
}

func parseJSONPairs(text string) []Judgment {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	var pairs []Judgment
	for _, item := range raw {
		var pair []any
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			continue
		}
		idx, ok1 := pair[0].(float64)
		score, ok2 := pair[1].(float64)
		if !ok1 || !ok2 || idx != math.Trunc(idx) {
			continue
		}
		pairs = append(pairs, Judgment{Index: int(idx), Score: score})
	}
	return pairs
}

func scanPairs(text string) []Judgment {
	var pairs []Judgment
	for _, m := range judgmentPair.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		pairs = append(pairs, Judgment{Index: idx, Score: score})
	}
	return pairs
}
