package control

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTest(pub Publisher) *Interpreter {
	return New(pub, zerolog.Nop())
}

func TestNonJSONIgnored(t *testing.T) {
	i := newTest(nil)

	var fired bool
	i.OnEmailPopup(func(bool) { fired = true })
	i.OnAction(func(string) { fired = true })

	i.HandleData([]byte{0x00, 0xff, 0xfe})
	i.HandleData([]byte("not json at all"))
	i.HandleData(nil)

	if fired {
		t.Error("undecodable frames must be silent no-ops")
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	i := newTest(nil)

	var fired bool
	i.OnEmailPopup(func(bool) { fired = true })

	i.HandleData([]byte(`{"type":"future_feature","x":1}`))
	if fired {
		t.Error("unknown type must be a no-op")
	}
}

func TestEmailPopupOpenClose(t *testing.T) {
	i := newTest(nil)

	var states []bool
	i.OnEmailPopup(func(v bool) { states = append(states, v) })

	i.HandleData([]byte(`{"type":"request_email_input"}`))
	i.HandleData([]byte(`{"type":"close_email_popup"}`))

	if len(states) != 2 || states[0] != true || states[1] != false {
		t.Errorf("expected [true false], got %v", states)
	}
}

func TestSearchSourcesReplacedAndNotified(t *testing.T) {
	i := newTest(nil)

	var got []SourceLink
	var tools []string
	i.OnSearchSources(func(s []SourceLink) { got = s })
	i.OnToolUse(func(tool string) { tools = append(tools, tool) })

	i.HandleData([]byte(`{"type":"search_sources","sources":[{"url":"https://example.com","title":"Example"}]}`))

	if len(got) != 1 || got[0].URL != "https://example.com" || got[0].Title != "Example" {
		t.Errorf("unexpected sources: %+v", got)
	}
	if len(tools) != 1 {
		t.Errorf("expected notification on search sources, got %v", tools)
	}

	// Missing sources field defaults to an empty, non-nil list.
	i.HandleData([]byte(`{"type":"search_sources"}`))
	if got == nil || len(got) != 0 {
		t.Errorf("expected wholesale replacement with empty list, got %+v", got)
	}
}

func TestToolUseDispatched(t *testing.T) {
	i := newTest(nil)

	var tool string
	i.OnToolUse(func(name string) { tool = name })

	i.HandleData([]byte(`{"type":"tool_use","tool":"search_web"}`))
	if tool != "search_web" {
		t.Errorf("expected search_web, got %q", tool)
	}
}

func TestActionAutoClearsAfterDwell(t *testing.T) {
	i := newTest(nil)
	i.SetActionDwell(30 * time.Millisecond)

	i.HandleData([]byte(`{"type":"action","action":"wave"}`))
	if i.Action() != "wave" {
		t.Fatalf("expected wave active, got %q", i.Action())
	}

	time.Sleep(60 * time.Millisecond)
	if i.Action() != "" {
		t.Errorf("expected cue cleared after dwell, got %q", i.Action())
	}
}

func TestNewerActionSurvivesOlderTimer(t *testing.T) {
	i := newTest(nil)
	i.SetActionDwell(50 * time.Millisecond)

	i.HandleData([]byte(`{"type":"action","action":"wave"}`))
	time.Sleep(25 * time.Millisecond)
	i.HandleData([]byte(`{"type":"action","action":"nod"}`))

	// wave's original clear point passes; nod must still be active.
	time.Sleep(35 * time.Millisecond)
	if i.Action() != "nod" {
		t.Errorf("stale dwell timer cleared the newer cue, got %q", i.Action())
	}

	// nod's own dwell elapses.
	time.Sleep(30 * time.Millisecond)
	if i.Action() != "" {
		t.Errorf("expected nod cleared after its own dwell, got %q", i.Action())
	}
}

func TestActionCallbackSequence(t *testing.T) {
	i := newTest(nil)
	i.SetActionDwell(20 * time.Millisecond)

	var mu sync.Mutex
	var seq []string
	i.OnAction(func(name string) {
		mu.Lock()
		seq = append(seq, name)
		mu.Unlock()
	})

	i.HandleData([]byte(`{"type":"action","action":"wave"}`))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seq) != 2 || seq[0] != "wave" || seq[1] != "" {
		t.Errorf("expected [wave \"\"], got %v", seq)
	}
}

func TestResetCancelsPendingClear(t *testing.T) {
	i := newTest(nil)
	i.SetActionDwell(20 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	i.OnAction(func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	i.HandleData([]byte(`{"type":"action","action":"wave"}`))
	i.Reset()

	if i.Action() != "" {
		t.Error("expected cue cleared by reset")
	}

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 { // only the initial "wave" callback
		t.Errorf("dwell timer fired after reset, calls=%d", calls)
	}
}

func TestSendEmail(t *testing.T) {
	var published [][]byte
	i := newTest(func(p []byte) error {
		published = append(published, p)
		return nil
	})

	if err := i.SendEmail("  "); err == nil {
		t.Error("whitespace-only input must be rejected")
	}
	if err := i.SendEmail("not-an-email"); err == nil {
		t.Error("malformed address must be rejected")
	}
	if len(published) != 0 {
		t.Fatal("rejected input must not publish")
	}

	if err := i.SendEmail("user@example.com"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("expected one published message, got %d", len(published))
	}

	var msg map[string]string
	if err := json.Unmarshal(published[0], &msg); err != nil {
		t.Fatalf("outbound payload not JSON: %v", err)
	}
	if msg["type"] != TypeEmailResponse || msg["email"] != "user@example.com" {
		t.Errorf("unexpected outbound payload: %v", msg)
	}
}
