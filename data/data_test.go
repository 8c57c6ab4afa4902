package data

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newManager(t *testing.T, shuffle bool) *MemoryManager {
	t.Helper()
	train, test := Synthetic{Classes: 7, Dim: 4, PerTrain: 3, PerTest: 2, Spread: 0.01, Seed: 1, LabelOffset: 10}.Generate()
	m, err := NewMemoryManager(train, test, ManagerOptions{InitClass: 5, Increment: 2, Seed: 3, Shuffle: shuffle})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTaskLists(t *testing.T) {
	m := newManager(t, false)
	if m.NumTasks() != 2 {
		t.Fatalf("expected 2 tasks, got %d", m.NumTasks())
	}
	train, test, names, err := m.GetTaskList(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(train) != 5 || len(test) != 5 || len(names) != 5 {
		t.Errorf("task 0 lists: %v %v %v", train, test, names)
	}
	train, test, _, err = m.GetTaskList(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(train) != 2 || len(test) != 7 {
		t.Errorf("task 1 lists: %v %v", train, test)
	}
	if train[0] != 15 {
		t.Errorf("expected unshuffled order to start task 1 at 15, got %v", train)
	}
	if _, _, _, err := m.GetTaskList(2); err == nil {
		t.Error("expected error past the last task")
	}
}

func TestRemapIsBijectionAndStable(t *testing.T) {
	m := newManager(t, true)
	train, _, _, err := m.GetTaskList(0)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]int{}
	for _, raw := range train {
		o, err := m.MapCat2Order(raw)
		if err != nil {
			t.Fatal(err)
		}
		if prev, dup := seen[o]; dup {
			t.Fatalf("raw %d and %d share order %d", prev, raw, o)
		}
		seen[o] = raw
		again, _ := m.MapCat2Order(raw)
		if again != o {
			t.Errorf("MapCat2Order(%d) not stable: %d then %d", raw, o, again)
		}
		if o < 0 || o >= 5 {
			t.Errorf("task 0 class %d mapped outside [0,5): %d", raw, o)
		}
	}
	if _, err := m.MapCat2Order(99); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestRemapOnce(t *testing.T) {
	m := newManager(t, true)
	train, _, _, _ := m.GetTaskList(0)
	ds, err := m.GetTaskData(SourceTrainNoAug, train)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Remap(m); err != nil {
		t.Fatal(err)
	}
	before := append([]int(nil), ds.Labels...)
	if err := ds.Remap(m); !errors.Is(err, ErrAlreadyRemapped) {
		t.Fatalf("expected ErrAlreadyRemapped, got %v", err)
	}
	for i := range before {
		if ds.Labels[i] != before[i] {
			t.Fatal("second Remap changed labels")
		}
	}
}

func TestGetTaskDataSources(t *testing.T) {
	m := newManager(t, false)
	m.augNoise = 0.5
	train, test, _, _ := m.GetTaskList(1)
	aug, _ := m.GetTaskData(SourceTrain, train)
	clean, _ := m.GetTaskData(SourceTrainNoAug, train)
	if aug.Len() != 6 || clean.Len() != 6 {
		t.Fatalf("expected 6 train samples, got %d and %d", aug.Len(), clean.Len())
	}
	if aug.Inputs[0][0] == clean.Inputs[0][0] {
		t.Error("train source should be augmented")
	}
	if clean.Inputs[0][0] != m.train.Subset(train).Inputs[0][0] {
		t.Error("augmentation leaked into the pool")
	}
	ts, _ := m.GetTaskData(SourceTest, test)
	if ts.Len() != 14 {
		t.Errorf("expected 14 test samples over all seen classes, got %d", ts.Len())
	}
	if _, err := m.GetTaskData("val", train); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestLoaderOrderAndWorkers(t *testing.T) {
	ds := OneHot(3, 5, 0)
	for _, workers := range []int{0, 1, 4} {
		l, err := NewLoader(ds, 4, false, workers, 1)
		if err != nil {
			t.Fatal(err)
		}
		if l.Len() != 4 {
			t.Fatalf("expected 4 batches, got %d", l.Len())
		}
		var ids []int
		err = l.Each(func(i int, b *Batch) error {
			ids = append(ids, b.IDs...)
			r, c := b.Inputs.Dims()
			if r != b.Size() || c != 3 {
				t.Errorf("batch %d dims %dx%d", i, r, c)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, id := range ids {
			if id != i {
				t.Fatalf("workers=%d: sample %d out of order (%d)", workers, i, id)
			}
		}
	}
}

func TestLoaderShuffleCoversAll(t *testing.T) {
	ds := OneHot(4, 4, 0)
	l, _ := NewLoader(ds, 3, true, 2, 7)
	seen := map[int]bool{}
	_ = l.Each(func(_ int, b *Batch) error {
		for _, id := range b.IDs {
			seen[id] = true
		}
		return nil
	})
	if len(seen) != ds.Len() {
		t.Errorf("shuffled pass visited %d of %d samples", len(seen), ds.Len())
	}
}

func TestLoaderStopsOnError(t *testing.T) {
	ds := OneHot(5, 10, 0)
	l, _ := NewLoader(ds, 2, false, 3, 1)
	stop := errors.New("stop")
	calls := 0
	err := l.Each(func(i int, _ *Batch) error {
		calls++
		if i == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 3 {
		t.Errorf("expected stop after 3 calls, got %v after %d", err, calls)
	}
}

func TestLoaderRejectsMismatch(t *testing.T) {
	ds := &Dataset{IDs: []int{0, 1}, Inputs: [][]float64{{1}, {1, 2}}, Labels: []int{0, 1}}
	if _, err := NewLoader(ds, 2, false, 0, 1); !errors.Is(err, ErrBatchMismatch) {
		t.Errorf("expected ErrBatchMismatch, got %v", err)
	}
}

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader("label,a,b\n3,0.5,1\n4, 1.5, 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || ds.Dim() != 2 || ds.Labels[1] != 4 || ds.Inputs[1][0] != 1.5 {
		t.Errorf("unexpected dataset %+v", ds)
	}
	if _, err := ReadCSV(strings.NewReader("1,a\n")); err == nil {
		t.Error("expected parse error")
	}
}

type lenEncoder struct{}

func (lenEncoder) Encode(_ context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text)), 1}, nil
}

func TestReadTextCSV(t *testing.T) {
	ds, err := ReadTextCSV(context.Background(), strings.NewReader("label,text\n0,good\n1,\"bad, really\"\n"), lenEncoder{})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || ds.Inputs[1][0] != float64(len("bad, really")) {
		t.Errorf("unexpected dataset %+v", ds)
	}
}
