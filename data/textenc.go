package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
)

// DefaultTextModel is small and popular enough to download quickly.
const DefaultTextModel = "sentence-transformers/all-MiniLM-L6-v2"

// Encoder turns a text into a feature vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// TextEncoder wraps a Cybertron sentence encoder and caches its vectors.
type TextEncoder struct {
	model textencoding.Interface
	cache *lru.Cache[string, []float64]
}

// NewTextEncoder loads modelName (DefaultTextModel when empty) from
// modelsDir, downloading it on first use.
func NewTextEncoder(modelsDir, modelName string, cacheSize int) (*TextEncoder, error) {
	if modelName == "" {
		modelName = DefaultTextModel
	}
	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", modelName, err)
	}
	return newTextEncoder(m, cacheSize)
}

func newTextEncoder(m textencoding.Interface, cacheSize int) (*TextEncoder, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, []float64](cacheSize)
	if err != nil {
		return nil, err
	}
	return &TextEncoder{model: m, cache: c}, nil
}

// Encode returns the pooled sentence embedding.
func (e *TextEncoder) Encode(ctx context.Context, text string) ([]float64, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	result, err := e.model.Encode(ctx, text, 0)
	if err != nil {
		return nil, err
	}
	data := result.Vector.Data().F64()
	v := make([]float64, len(data))
	copy(v, data)
	e.cache.Add(text, v)
	return v, nil
}

// LoadTextCSV reads rows of "label,text" and embeds every text with enc.
func LoadTextCSV(ctx context.Context, path string, enc Encoder) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTextCSV(ctx, f, enc)
}

func ReadTextCSV(ctx context.Context, r io.Reader, enc Encoder) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	ds := &Dataset{}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		label, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			if row == 0 {
				continue
			}
			return nil, fmt.Errorf("data: row %d label: %w", row+1, err)
		}
		vec, err := enc.Encode(ctx, rec[1])
		if err != nil {
			return nil, fmt.Errorf("data: row %d: %w", row+1, err)
		}
		ds.IDs = append(ds.IDs, len(ds.IDs))
		ds.Inputs = append(ds.Inputs, vec)
		ds.Labels = append(ds.Labels, label)
	}
	return ds, ds.Check()
}
