package network

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"
)

var ErrCheckpoint = errors.New("network: bad checkpoint")

type paramState struct {
	Name   string
	Group  Group
	TaskID int
	Rows   int
	Cols   int
	Data   []float64
}

type snapshot struct {
	Options Options
	Classes int
	Heads   int
	Params  []paramState
	R       []float64
}

func (n *Net) snapshot() snapshot {
	s := snapshot{Options: n.opts, Classes: n.classes, Heads: n.heads, R: append([]float64(nil), n.FC.R.RawMatrix().Data...)}
	for _, p := range n.Parameters() {
		s.Params = append(s.Params, paramState{
			Name: p.Name, Group: p.Group, TaskID: p.TaskID,
			Rows: p.Rows, Cols: p.Cols,
			Data: append([]float64(nil), p.Data...),
		})
	}
	return s
}

// WriteTo streams a zstd-compressed gob snapshot of the network.
func (n *Net) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return 0, err
	}
	if err := gob.NewEncoder(enc).Encode(n.snapshot()); err != nil {
		enc.Close()
		return cw.n, err
	}
	err = enc.Close()
	return cw.n, err
}

// Save writes the snapshot to path, creating parent directories.
func (n *Net) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := n.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("network: save %s: %w", path, err)
	}
	return f.Close()
}

func readSnapshot(r io.Reader) (snapshot, error) {
	var s snapshot
	dec, err := zstd.NewReader(r)
	if err != nil {
		return s, err
	}
	defer dec.Close()
	if err := gob.NewDecoder(dec).Decode(&s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	return s, nil
}

// Read rebuilds a network from a snapshot. Every parameter comes back
// frozen and the network is in eval mode.
func Read(r io.Reader) (*Net, error) {
	s, err := readSnapshot(r)
	if err != nil {
		return nil, err
	}
	n, err := New(s.Options)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]paramState, len(s.Params))
	for _, p := range s.Params {
		byName[p.Name] = p
		if p.Group == GroupNoise && strings.HasSuffix(p.Name, ".W") {
			n.Noise.Add(p.TaskID)
		}
	}
	if st, ok := byName["normal_fc.W"]; ok {
		n.NormalFC = NewLinear("normal_fc", GroupNormalFC, st.TaskID, s.Options.BufferSize, st.Cols, false, nil)
	}
	n.classes, n.heads = s.Classes, s.Heads
	if fc, ok := byName["fc.W"]; ok {
		n.FC.Widen(fc.Cols)
	}
	for _, p := range n.Parameters() {
		st, ok := byName[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrCheckpoint, p.Name)
		}
		if st.Rows != p.Rows || st.Cols != p.Cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrCheckpoint, p.Name, st.Rows, st.Cols, p.Rows, p.Cols)
		}
		if err := p.Assign(st.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCheckpoint, err)
		}
	}
	b := s.Options.BufferSize
	if len(s.R) != b*b {
		return nil, fmt.Errorf("%w: R has %d values", ErrCheckpoint, len(s.R))
	}
	n.FC.R = mat.NewDense(b, b, s.R)
	n.Freeze()
	return n, nil
}

// Load reads a network saved with Save.
func Load(path string) (*Net, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// LoadBackbone copies the backbone weights of the checkpoint at path into n.
// It is how a pretrained feature extractor is brought in.
func (n *Net) LoadBackbone(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s, err := readSnapshot(f)
	if err != nil {
		return err
	}
	loaded := 0
	for _, st := range s.Params {
		if st.Group != GroupBackbone {
			continue
		}
		for _, p := range n.ParametersOf(GroupBackbone) {
			if p.Name != st.Name {
				continue
			}
			if st.Rows != p.Rows || st.Cols != p.Cols {
				return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrCheckpoint, p.Name, st.Rows, st.Cols, p.Rows, p.Cols)
			}
			if err := p.Assign(st.Data); err != nil {
				return err
			}
			loaded++
		}
	}
	if loaded == 0 {
		return fmt.Errorf("%w: no backbone in %s", ErrCheckpoint, path)
	}
	return nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	k, err := c.w.Write(p)
	c.n += int64(k)
	return k, err
}
