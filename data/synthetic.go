package data

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"strconv"
)

// Synthetic generates Gaussian clusters around one prototype per class. The
// prototype of a class is drawn from a generator seeded with the md5 of its
// name, so the same class always lands in the same place regardless of how
// many classes are generated.
type Synthetic struct {
	Classes  int
	Dim      int
	PerTrain int
	PerTest  int
	// Spread is the std of the per-sample noise around a prototype.
	Spread float64
	Seed   int64
	// LabelOffset is added to class indices to form raw category ids.
	LabelOffset int
}

func prototype(class, dim int) []float64 {
	hash := md5.Sum([]byte("class-" + strconv.Itoa(class)))
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(hash[:8]))))
	p := make([]float64, dim)
	for d := range p {
		p[d] = r.Float64()*2 - 1
	}
	return p
}

// Generate returns the train and test pools.
func (s Synthetic) Generate() (train, test *Dataset) {
	r := rand.New(rand.NewSource(s.Seed))
	train, test = &Dataset{}, &Dataset{}
	id := 0
	for c := 0; c < s.Classes; c++ {
		p := prototype(c, s.Dim)
		for _, out := range []struct {
			ds *Dataset
			n  int
		}{{train, s.PerTrain}, {test, s.PerTest}} {
			for i := 0; i < out.n; i++ {
				in := make([]float64, s.Dim)
				for d := range in {
					in[d] = p[d] + r.NormFloat64()*s.Spread
				}
				out.ds.IDs = append(out.ds.IDs, id)
				out.ds.Inputs = append(out.ds.Inputs, in)
				out.ds.Labels = append(out.ds.Labels, c+s.LabelOffset)
				id++
			}
		}
	}
	return train, test
}

// OneHot returns n samples per class whose input is the one-hot vector of
// the class, a perfectly separable set.
func OneHot(classes, n, labelOffset int) *Dataset {
	ds := &Dataset{}
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			in := make([]float64, classes)
			in[c] = 1
			ds.IDs = append(ds.IDs, len(ds.IDs))
			ds.Inputs = append(ds.Inputs, in)
			ds.Labels = append(ds.Labels, c+labelOffset)
		}
	}
	return ds
}
