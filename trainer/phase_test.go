package trainer

import (
	"math"
	"sort"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"

	"github.com/infosave2007/minnet/data"
	"github.com/infosave2007/minnet/network"
	"github.com/infosave2007/minnet/optim"
)

func oneHotBatch(classes, width int) *data.Batch {
	b := &data.Batch{Inputs: mat.NewDense(classes, width, nil)}
	for c := 0; c < classes; c++ {
		b.Inputs.Set(c, c, 1)
		b.IDs = append(b.IDs, c)
		b.Targets = append(b.Targets, c)
	}
	return b
}

func snapshot(net *network.Net) map[string][]float64 {
	out := map[string][]float64{}
	for _, p := range net.Parameters() {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// gradNorms runs one backward pass and returns the gradient norm of every
// parameter that received one.
func gradNorms(t *testing.T, net *network.Net, b *data.Batch, withMemory bool) map[string]float64 {
	t.Helper()
	gr, _, loss, err := lossGraph(net, b, withMemory)
	if err != nil {
		t.Fatal(err)
	}
	learnables := gr.Learnables()
	if _, err := gorgonia.Grad(loss, learnables...); err != nil {
		t.Fatal(err)
	}
	m := gorgonia.NewTapeMachine(gr.G, gorgonia.BindDualValues(learnables...))
	defer m.Close()
	if err := m.RunAll(); err != nil {
		t.Fatal(err)
	}
	norms := map[string]float64{}
	for _, p := range gr.LearnableParams() {
		g, err := gr.Node(p).Grad()
		if err != nil {
			t.Fatal(err)
		}
		norms[p.Name] = floats.Norm(g.Data().([]float64), 2)
	}
	return norms
}

func names(m map[string]float64) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGradientGroups(t *testing.T) {
	tests := []struct {
		name       string
		pretrained bool
		task       int
		want       []string
	}{
		{"initial", false, 0, []string{"normal_fc.W", "normal_fc.b"}},
		{"initial pretrained", true, 0, []string{"backbone.W", "backbone.b", "normal_fc.W", "normal_fc.b"}},
		{"incremental", false, 1, []string{"noise.1.W", "noise.1.b", "normal_fc.W", "normal_fc.b"}},
		{"incremental pretrained", true, 1, []string{"noise.1.W", "noise.1.b", "normal_fc.W", "normal_fc.b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, err := network.New(network.Options{InputDim: 7, FeatureDim: 16, BufferSize: 32, Gamma: 0.01, Pretrained: tt.pretrained})
			if err != nil {
				t.Fatal(err)
			}
			if err := net.UpdateFC(5); err != nil {
				t.Fatal(err)
			}
			net.UpdateNoise()
			var phase Phase = &InitialTaskPhase{Pretrained: tt.pretrained}
			b := oneHotBatch(5, 7)
			if tt.task > 0 {
				y, _ := network.OneHot(b.Targets, 5)
				if err := net.Fit(b.Inputs, y); err != nil {
					t.Fatal(err)
				}
				if err := net.UpdateFC(2); err != nil {
					t.Fatal(err)
				}
				net.UpdateNoise()
				phase = &IncrementalTaskPhase{}
				b = oneHotBatch(7, 7)
			}
			net.Apply(phase.Capability())

			norms := gradNorms(t, net, b, tt.task > 0)
			if got := names(norms); !equalStrings(got, tt.want) {
				t.Fatalf("gradients reach %v, want %v", got, tt.want)
			}
			for _, name := range []string{"normal_fc.W"} {
				if norms[name] == 0 {
					t.Errorf("%s has zero gradient", name)
				}
			}
			if tt.task > 0 && norms["noise.1.W"] == 0 {
				t.Error("noise.1.W has zero gradient")
			}
		})
	}
}

func TestTrainStepTouchesOnlyTrainable(t *testing.T) {
	net, err := network.New(network.Options{InputDim: 7, FeatureDim: 16, BufferSize: 32, Gamma: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if err := net.UpdateFC(5); err != nil {
		t.Fatal(err)
	}
	net.UpdateNoise()
	b := oneHotBatch(5, 7)
	y, _ := network.OneHot(b.Targets, 5)
	if err := net.Fit(b.Inputs, y); err != nil {
		t.Fatal(err)
	}
	if err := net.UpdateFC(2); err != nil {
		t.Fatal(err)
	}
	net.UpdateNoise()
	opt, err := optim.New("adam", 0.01, 0)
	if err != nil {
		t.Fatal(err)
	}
	phase := &IncrementalTaskPhase{Opt: opt}
	net.Apply(phase.Capability())

	before := snapshot(net)
	if _, err := trainStep(net, opt, oneHotBatch(7, 7), true); err != nil {
		t.Fatal(err)
	}
	after := snapshot(net)

	trained := map[string]bool{"noise.1.W": true, "noise.1.b": true, "normal_fc.W": true, "normal_fc.b": true}
	for name, old := range before {
		changed := !floats.Equal(old, after[name])
		if trained[name] && !changed {
			t.Errorf("%s was not updated", name)
		}
		if !trained[name] && changed {
			t.Errorf("frozen %s was updated", name)
		}
	}
}

func TestPhaseEpochReducesLoss(t *testing.T) {
	net, err := network.New(network.Options{InputDim: 5, FeatureDim: 16, BufferSize: 32, Gamma: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if err := net.UpdateFC(5); err != nil {
		t.Fatal(err)
	}
	net.UpdateNoise()
	opt, err := optim.New("adam", 0.05, 0)
	if err != nil {
		t.Fatal(err)
	}
	phase := &InitialTaskPhase{Opt: opt}
	net.Apply(phase.Capability())
	loader, err := data.NewLoader(data.OneHot(5, 4, 0), 5, true, 0, 7)
	if err != nil {
		t.Fatal(err)
	}

	first, err := phase.Execute(loader, net)
	if err != nil {
		t.Fatal(err)
	}
	var last PhaseMetrics
	for i := 0; i < 30; i++ {
		if last, err = phase.Execute(loader, net); err != nil {
			t.Fatal(err)
		}
	}
	if last.Loss >= first.Loss {
		t.Fatalf("loss did not fall: %.4f -> %.4f", first.Loss, last.Loss)
	}
	if last.Total != 20 {
		t.Fatalf("epoch saw %d samples, want 20", last.Total)
	}
}

// crossEntropy is the mean negative log softmax probability of the targets.
func crossEntropy(logits *mat.Dense, targets []int) float64 {
	rows, cols := logits.Dims()
	var total float64
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		top := floats.Max(row)
		var z float64
		for j := 0; j < cols; j++ {
			z += math.Exp(row[j] - top)
		}
		p := math.Exp(row[targets[i]]-top) / z
		total -= math.Log(p + 1e-12)
	}
	return total / float64(rows)
}

func graphLoss(t *testing.T, net *network.Net, b *data.Batch, withMemory bool) float64 {
	t.Helper()
	gr, _, loss, err := lossGraph(net, b, withMemory)
	if err != nil {
		t.Fatal(err)
	}
	var v gorgonia.Value
	gorgonia.Read(loss, &v)
	m := gorgonia.NewTapeMachine(gr.G)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		t.Fatal(err)
	}
	f, ok := v.Data().(float64)
	if !ok {
		t.Fatalf("loss holds %T", v.Data())
	}
	return f
}

func TestIncrementalLossSumsHeads(t *testing.T) {
	net, err := network.New(network.Options{InputDim: 7, FeatureDim: 16, BufferSize: 32, Gamma: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if err := net.UpdateFC(5); err != nil {
		t.Fatal(err)
	}
	net.UpdateNoise()
	old := oneHotBatch(5, 7)
	y, _ := network.OneHot(old.Targets, 5)
	if err := net.Fit(old.Inputs, y); err != nil {
		t.Fatal(err)
	}
	if err := net.UpdateFC(2); err != nil {
		t.Fatal(err)
	}
	net.UpdateNoise()

	b := oneHotBatch(7, 7)
	normal, err := net.ForwardNormalFC(b.Inputs, false)
	if err != nil {
		t.Fatal(err)
	}
	evolving, err := net.Forward(b.Inputs, false)
	if err != nil {
		t.Fatal(err)
	}
	var sum mat.Dense
	sum.Add(normal.Logits, evolving.Logits)
	wantSum := crossEntropy(&sum, b.Targets)
	wantNormal := crossEntropy(normal.Logits, b.Targets)
	if math.Abs(wantSum-wantNormal) < 1e-3 {
		t.Fatalf("evolving head adds nothing to the loss: %.6f vs %.6f", wantSum, wantNormal)
	}

	if got := graphLoss(t, net, b, true); math.Abs(got-wantSum) > 1e-6 {
		t.Fatalf("incremental loss %.6f, want CE(normal+evolving) %.6f", got, wantSum)
	}
	if got := graphLoss(t, net, b, false); math.Abs(got-wantNormal) > 1e-6 {
		t.Fatalf("initial loss %.6f, want CE(normal) %.6f", got, wantNormal)
	}
}
