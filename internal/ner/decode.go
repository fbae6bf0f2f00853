package ner

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/raaihank/photo-sentinel/internal/pii"
)

const outsideLabel = "O"

// LoadLabels reads id2label from a model config.json into an index-addressed slice
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label config: %w", err)
	}

	var doc struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse label config: %w", err)
	}
	if len(doc.ID2Label) == 0 {
		return nil, fmt.Errorf("label config %s has no id2label", path)
	}

	ids := make([]int, 0, len(doc.ID2Label))
	for key := range doc.ID2Label {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid label id %q", key)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	labels := make([]string, ids[len(ids)-1]+1)
	for i := range labels {
		labels[i] = outsideLabel
	}
	for key, label := range doc.ID2Label {
		id, _ := strconv.Atoi(key)
		labels[id] = label
	}
	return labels, nil
}

// baseLabel strips a BIO/BIOES prefix
func baseLabel(label string) string {
	if len(label) > 2 && label[1] == '-' {
		switch label[0] {
		case 'B', 'I', 'E', 'S', 'L', 'U':
			return label[2:]
		}
	}
	return label
}

// argmaxSoftmax returns the winning class and its softmax probability
func argmaxSoftmax(row []float32) (int, float64) {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}

	maxLogit := float64(row[best])
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxLogit)
	}
	return best, 1 / sum
}

// decodeEntities turns [1, T, C] logits into merged entity spans
func decodeEntities(logits *Logits, enc *Encoding, labels []string) ([]pii.Entity, error) {
	shape := logits.Shape
	if len(shape) != 3 || shape[0] != 1 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if len(logits.Data) != steps*classes {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(logits.Data), shape)
	}
	if classes > len(labels) {
		return nil, fmt.Errorf("%w: model emits %d classes, label map has %d", ErrShapeMismatch, classes, len(labels))
	}

	n := steps
	if enc.Len() < n {
		n = enc.Len()
	}

	var entities []pii.Entity
	var current *pii.Entity

	flush := func() {
		if current != nil && current.End > current.Start {
			entities = append(entities, *current)
		}
		current = nil
	}

	for t := 0; t < n; t++ {
		offset := enc.Offsets[t]
		if enc.AttentionMask[t] == 0 || !offset.Valid() {
			flush()
			continue
		}

		class, score := argmaxSoftmax(logits.Data[t*classes : (t+1)*classes])
		label := strings.ToUpper(baseLabel(labels[class]))
		if label == outsideLabel || label == "" {
			flush()
			continue
		}

		if current != nil && current.Label == label {
			if offset.End > current.End {
				current.End = offset.End
			}
			if score > current.Score {
				current.Score = score
			}
			continue
		}

		flush()
		current = &pii.Entity{Label: label, Start: offset.Start, End: offset.End, Score: score}
	}
	flush()

	return entities, nil
}
