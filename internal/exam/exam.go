// Package exam loads exam papers and scores submitted answers.
package exam

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"examtutor/internal/model"
)

// LoadFile reads one exam paper from a JSON file. The file's base name
// becomes the exam's filename, which anchors its storage key.
func LoadFile(path string) (*model.Exam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading exam file: %w", err)
	}
	exam, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	exam.Filename = model.FilenameFromPath(path)
	return exam, nil
}

// Parse decodes an exam paper from JSON and validates the minimum
// shape: at least one question, each with content.
func Parse(data []byte) (*model.Exam, error) {
	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return nil, fmt.Errorf("invalid exam JSON: %w", err)
	}
	if len(exam.Questions) == 0 {
		return nil, fmt.Errorf("exam has no questions")
	}
	for i, q := range exam.Questions {
		if strings.TrimSpace(q.Content) == "" {
			return nil, fmt.Errorf("question %d has no content", i)
		}
	}
	return &exam, nil
}

// ListDir returns the exam JSON files in dir, sorted by name.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading exam directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Shuffle permutes questions in place with a Fisher-Yates walk and
// returns the mapping from shuffled position to original index, so
// answers and chat records can stay keyed to the original order.
func Shuffle(questions []model.Question, rng *rand.Rand) []int {
	order := make([]int, len(questions))
	for i := range order {
		order[i] = i
	}
	for i := len(questions) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		questions[i], questions[j] = questions[j], questions[i]
		order[i], order[j] = order[j], order[i]
	}
	return order
}
