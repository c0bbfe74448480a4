package agent

import (
	"errors"
	"testing"

	"autoforge/internal/bus"
)

// fakeAgent records lifecycle calls into a shared transcript.
type fakeAgent struct {
	id         string
	running    bool
	startErr   error
	stopErr    error
	transcript *[]string
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	if f.transcript != nil {
		*f.transcript = append(*f.transcript, "start:"+f.id)
	}
	return nil
}

func (f *fakeAgent) Stop() error {
	f.running = false
	if f.transcript != nil {
		*f.transcript = append(*f.transcript, "stop:"+f.id)
	}
	return f.stopErr
}

func (f *fakeAgent) IsRunning() bool { return f.running }

func (f *fakeAgent) HandleMessage(*bus.AgentMessage) error { return nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("nil agent should be rejected")
	}

	if err := r.Register(&fakeAgent{id: "moderator"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := r.Register(&fakeAgent{id: "moderator"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register = %v, want ErrAlreadyRegistered", err)
	}
	if got := CategoryOf(err); got != CategoryConfiguration {
		t.Errorf("duplicate registration category = %s, want configuration_error", got)
	}

	if _, ok := r.Get("moderator"); !ok {
		t.Error("Get should find the registered agent")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("Get should not find an unregistered id")
	}
}

func TestRegistryStartStopOrder(t *testing.T) {
	r := NewRegistry()
	var transcript []string

	for _, id := range []string{"moderator", "techlead", "monitor"} {
		if err := r.Register(&fakeAgent{id: id, transcript: &transcript}); err != nil {
			t.Fatalf("Register(%s) failed: %v", id, err)
		}
	}

	ids := r.IDs()
	want := []string{"moderator", "techlead", "monitor"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs = %v, want registration order %v", ids, want)
		}
	}

	if err := r.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if got := r.RunningCount(); got != 3 {
		t.Errorf("RunningCount = %d, want 3", got)
	}
	if err := r.StopAll(); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if got := r.RunningCount(); got != 0 {
		t.Errorf("RunningCount after stop = %d, want 0", got)
	}

	wantTranscript := []string{
		"start:moderator", "start:techlead", "start:monitor",
		"stop:monitor", "stop:techlead", "stop:moderator",
	}
	if len(transcript) != len(wantTranscript) {
		t.Fatalf("transcript = %v, want %v", transcript, wantTranscript)
	}
	for i := range wantTranscript {
		if transcript[i] != wantTranscript[i] {
			t.Fatalf("transcript = %v, want %v", transcript, wantTranscript)
		}
	}
}

func TestRegistryStartAllAbortsOnFailure(t *testing.T) {
	r := NewRegistry()
	var transcript []string

	ok1 := &fakeAgent{id: "moderator", transcript: &transcript}
	bad := &fakeAgent{id: "techlead", startErr: errors.New("no handler set")}
	ok2 := &fakeAgent{id: "monitor", transcript: &transcript}

	for _, a := range []*fakeAgent{ok1, bad, ok2} {
		if err := r.Register(a); err != nil {
			t.Fatal(err)
		}
	}

	err := r.StartAll()
	if err == nil {
		t.Fatal("StartAll should surface the techlead failure")
	}
	// Agents before the failure stay running so the caller can StopAll.
	if !ok1.IsRunning() {
		t.Error("moderator should still be running after the abort")
	}
	if ok2.IsRunning() {
		t.Error("monitor should never have started")
	}
	if got := r.RunningCount(); got != 1 {
		t.Errorf("RunningCount = %d, want 1", got)
	}
}

func TestRegistryStopAllReturnsFirstErrorAfterAttemptingAll(t *testing.T) {
	r := NewRegistry()
	var transcript []string

	a1 := &fakeAgent{id: "alpha", transcript: &transcript}
	a2 := &fakeAgent{id: "bravo", stopErr: errors.New("bravo stuck"), transcript: &transcript}
	a3 := &fakeAgent{id: "charlie", transcript: &transcript}

	for _, a := range []*fakeAgent{a1, a2, a3} {
		if err := r.Register(a); err != nil {
			t.Fatal(err)
		}
		if err := a.Start(); err != nil {
			t.Fatal(err)
		}
	}

	err := r.StopAll()
	if err == nil || !errors.Is(err, a2.stopErr) {
		t.Errorf("StopAll = %v, want the bravo failure", err)
	}
	// Every agent was still attempted, reverse order.
	wantStops := []string{"stop:charlie", "stop:bravo", "stop:alpha"}
	stops := transcript[len(transcript)-3:]
	for i := range wantStops {
		if stops[i] != wantStops[i] {
			t.Fatalf("stop transcript = %v, want %v", stops, wantStops)
		}
	}
	if got := r.RunningCount(); got != 0 {
		t.Errorf("RunningCount = %d, want 0", got)
	}
}
