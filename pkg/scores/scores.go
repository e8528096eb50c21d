// Package scores collects per-frame confidence scores from figure custom data
// and writes them as a CSV table next to the flat-layout labels.
package scores

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"volexport/internal/models"
	"volexport/pkg/classindex"
	"volexport/pkg/structure"
)

const (
	// LayerColumn heads the frame index column
	LayerColumn = "Layer"

	columnPrefix = "Label-"
)

// Column is the table column of a pixel value.
func Column(pv uint8) string {
	return columnPrefix + strconv.Itoa(int(pv))
}

// columnValue extracts the pixel value embedded in a column name.
func columnValue(col string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(col, columnPrefix))
	if err != nil {
		return -1
	}
	return n
}

// Collect builds the score table of one item. Scores are read from the custom
// data entry named after orientation when present, otherwise from the first
// recognized orientation entry of the figure. Figures of unknown classes and
// frame keys that are not integers are skipped.
func Collect(figures []models.Figure, index *classindex.Map, orientation string, logger *slog.Logger) models.ScoreTable {
	table := models.ScoreTable{}
	for _, f := range figures {
		raw, tag, ok := scoreData(f, orientation)
		if !ok {
			continue
		}
		pv, ok := index.PixelValue(f.ClassName)
		if !ok {
			logger.Debug("ignoring scores of unknown class", "figure", f.Key, "class", f.ClassName)
			continue
		}

		var frames map[string]float64
		if err := json.Unmarshal(raw, &frames); err != nil {
			logger.Warn("ignoring unreadable scores", "figure", f.Key, "tag", tag, "error", err)
			continue
		}
		col := Column(pv)
		for key, score := range frames {
			frame, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				logger.Debug("ignoring score with non-numeric frame", "figure", f.Key, "frame", key)
				continue
			}
			row, ok := table[frame]
			if !ok {
				row = map[string]float64{}
				table[frame] = row
			}
			row[col] = score
		}
	}
	return table
}

func scoreData(f models.Figure, orientation string) (json.RawMessage, string, bool) {
	if len(f.CustomData) == 0 {
		return nil, "", false
	}
	if raw, ok := f.CustomData[orientation]; ok && orientation != "" {
		return raw, orientation, true
	}
	for _, tag := range structure.Prefixes {
		if raw, ok := f.CustomData[tag]; ok {
			return raw, tag, true
		}
	}
	return nil, "", false
}

// Columns returns the label columns of a table sorted by pixel value.
func Columns(table models.ScoreTable) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range table {
		for c := range row {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool { return columnValue(cols[i]) < columnValue(cols[j]) })
	return cols
}

// Frames returns the frame indices of a table in ascending order.
func Frames(table models.ScoreTable) []int {
	frames := make([]int, 0, len(table))
	for f := range table {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// FormatScore renders a score the way the table stores it; integral values
// keep one decimal so an absent cell reads "0.0".
func FormatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Records renders the table as CSV records, header first.
func Records(table models.ScoreTable) [][]string {
	cols := Columns(table)
	records := [][]string{append([]string{LayerColumn}, cols...)}
	for _, frame := range Frames(table) {
		rec := make([]string, 0, len(cols)+1)
		rec = append(rec, strconv.Itoa(frame))
		for _, c := range cols {
			rec = append(rec, FormatScore(table[frame][c]))
		}
		records = append(records, rec)
	}
	return records
}

// WriteFile writes the table to path.
func WriteFile(path string, table models.ScoreTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create score table: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(Records(table)); err != nil {
		return fmt.Errorf("failed to write score table: %v", err)
	}
	return f.Close()
}
