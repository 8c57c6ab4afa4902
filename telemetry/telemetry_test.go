package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderServesMetrics(t *testing.T) {
	r := New()
	r.TaskAccuracy(0, 97.5)
	r.KnownClasses(5)
	r.PhaseLoss("initial", 0.25)
	r.FitBatch()
	r.FitBatch()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`minnet_task_accuracy{task="0"} 97.5`,
		"minnet_known_classes 5",
		`minnet_phase_loss{phase="initial"} 0.25`,
		"minnet_fit_batches_total 2",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.TaskAccuracy(1, 50)
	r.KnownClasses(2)
	r.PhaseLoss("incremental", 1)
	r.FitBatch()
	if r.Registry() != nil {
		t.Fatal("nil recorder has a registry")
	}
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Fatalf("status %d, want 404", w.Code)
	}
}
