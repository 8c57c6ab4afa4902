package data

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Batch is one slice of a dataset, inputs as rows.
type Batch struct {
	IDs     []int
	Inputs  *mat.Dense
	Targets []int
}

func (b *Batch) Size() int { return len(b.Targets) }

// Loader iterates a dataset in batches. Train loaders shuffle on every pass,
// test loaders keep the dataset order. With more than one worker, batches are
// assembled ahead of the consumer but always delivered in order.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	workers   int
	rng       *rand.Rand
}

func NewLoader(ds *Dataset, batchSize int, shuffle bool, workers int, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("data: batch size %d", batchSize)
	}
	if err := ds.Check(); err != nil {
		return nil, err
	}
	if ds.Len() > 0 && ds.Dim() == 0 {
		return nil, fmt.Errorf("%w: zero-width inputs", ErrBatchMismatch)
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		workers:   workers,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Len is the number of batches per pass.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Samples is the number of samples per pass.
func (l *Loader) Samples() int { return l.ds.Len() }

func (l *Loader) Dataset() *Dataset { return l.ds }

func (l *Loader) chunks() [][]int {
	idx := make([]int, l.ds.Len())
	for i := range idx {
		idx[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	var out [][]int
	for start := 0; start < len(idx); start += l.batchSize {
		out = append(out, idx[start:min(start+l.batchSize, len(idx))])
	}
	return out
}

func (l *Loader) build(idx []int) *Batch {
	dim := l.ds.Dim()
	b := &Batch{
		IDs:     make([]int, len(idx)),
		Inputs:  mat.NewDense(len(idx), dim, nil),
		Targets: make([]int, len(idx)),
	}
	for r, i := range idx {
		b.IDs[r] = l.ds.IDs[i]
		b.Inputs.SetRow(r, l.ds.Inputs[i])
		b.Targets[r] = l.ds.Labels[i]
	}
	return b
}

// Each calls fn for every batch of one pass, in order. The first error from
// fn stops the pass and is returned.
func (l *Loader) Each(fn func(i int, b *Batch) error) error {
	chunks := l.chunks()
	if l.workers <= 1 {
		for i, c := range chunks {
			if err := fn(i, l.build(c)); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	results := make([]chan *Batch, len(chunks))
	for i := range results {
		results[i] = make(chan *Batch, 1)
	}
	// tokens bounds how far workers run ahead of fn.
	tokens := make(chan struct{}, 2*l.workers)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range chunks {
			select {
			case tokens <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < l.workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				results[i] <- l.build(chunks[i])
			}
			return nil
		})
	}

	var ferr error
	for i := range chunks {
		b := <-results[i]
		if ferr = fn(i, b); ferr != nil {
			break
		}
		<-tokens
	}
	cancel()
	if err := g.Wait(); err != nil && ferr == nil {
		return err
	}
	return ferr
}
