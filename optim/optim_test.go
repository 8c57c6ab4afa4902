package optim

import (
	"math"
	"testing"
)

func TestNewKinds(t *testing.T) {
	for _, kind := range []string{"sgd", "SGD", "vanilla", "adam", "rmsprop"} {
		t.Run(kind, func(t *testing.T) {
			o, err := New(kind, 0.1, 5e-4)
			if err != nil {
				t.Fatalf("New(%q): %v", kind, err)
			}
			if o.LearnRate() != 0.1 {
				t.Errorf("expected lr 0.1, got %v", o.LearnRate())
			}
		})
	}
	if _, err := New("lbfgs", 0.1, 0); err == nil {
		t.Error("expected error for unknown optimizer")
	}
}

func TestSchedulers(t *testing.T) {
	tests := []struct {
		kind   string
		epochs int
		want   []float64 // rate after each Step
	}{
		{"constant", 3, []float64{1, 1, 1}},
		{"step", 6, []float64{1, 0.1, 0.1, 0.01, 0.01, 0.01}},
		{"cosine", 2, []float64{0.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			o, err := New("vanilla", 1, 0)
			if err != nil {
				t.Fatal(err)
			}
			s, err := NewScheduler(tt.kind, o, tt.epochs)
			if err != nil {
				t.Fatal(err)
			}
			for i, want := range tt.want {
				if err := s.Step(); err != nil {
					t.Fatal(err)
				}
				if math.Abs(o.LearnRate()-want) > 1e-12 {
					t.Errorf("epoch %d: lr %v, want %v", i+1, o.LearnRate(), want)
				}
			}
			if s.Epoch() != len(tt.want) {
				t.Errorf("Epoch() = %d, want %d", s.Epoch(), len(tt.want))
			}
		})
	}
}

func TestUnknownScheduler(t *testing.T) {
	o, _ := New("adam", 0.01, 0)
	if _, err := NewScheduler("plateau", o, 3); err == nil {
		t.Error("expected error for unknown scheduler")
	}
}
