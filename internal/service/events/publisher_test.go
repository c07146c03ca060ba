package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

type capturedMsg struct {
	subject string
	data    []byte
}

type captureConn struct {
	msgs []capturedMsg
	err  error
}

func (c *captureConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, capturedMsg{subject: subject, data: data})
	return nil
}

func TestDeliveredPayload(t *testing.T) {
	cc := &captureConn{}
	p := &NATSPublisher{conn: cc}

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.Delivered(Delivered{
		SessionID: "abc",
		Summary:   practice.FeedbackSummary{TotalChords: 3, Level: practice.LevelIntermediate},
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Delivered err: %v", err)
	}
	if len(cc.msgs) != 1 || cc.msgs[0].subject != SubjectDelivered {
		t.Fatalf("unexpected messages %+v", cc.msgs)
	}

	var decoded map[string]any
	if err := json.Unmarshal(cc.msgs[0].data, &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded["session_id"] != "abc" {
		t.Fatalf("unexpected session_id %v", decoded["session_id"])
	}
	summary, ok := decoded["summary"].(map[string]any)
	if !ok || summary["totalChords"] != float64(3) {
		t.Fatalf("unexpected summary %v", decoded["summary"])
	}
}

func TestFailedPayload(t *testing.T) {
	cc := &captureConn{}
	p := &NATSPublisher{conn: cc}

	if err := p.Failed(Failed{SessionID: "abc", Stage: "merging", Kind: "external_tool_failure"}); err != nil {
		t.Fatalf("Failed err: %v", err)
	}
	if cc.msgs[0].subject != SubjectFailed {
		t.Fatalf("expected %s, got %s", SubjectFailed, cc.msgs[0].subject)
	}
	var ev Failed
	if err := json.Unmarshal(cc.msgs[0].data, &ev); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if ev.Stage != "merging" || ev.Kind != "external_tool_failure" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPublishErrorWrapped(t *testing.T) {
	boom := errors.New("connection closed")
	p := &NATSPublisher{conn: &captureConn{err: boom}}

	err := p.Failed(Failed{SessionID: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	if err := p.Delivered(Delivered{}); err != nil {
		t.Fatalf("Noop Delivered err: %v", err)
	}
	p.Close()
}
