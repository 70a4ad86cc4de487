package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/task"
)

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{
			name:      "invalid JSON",
			rawConfig: json.RawMessage(`{invalid json}`),
			wantErr:   true,
		},
		{
			name:      "missing agents",
			rawConfig: json.RawMessage(`{}`),
			wantErr:   true,
		},
		{
			name:      "invalid ack_wait",
			rawConfig: json.RawMessage(`{"ack_wait":"soon","agents":{"primary":{"provider":"ollama","url":"http://localhost:11434","model":"qwen3"}}}`),
			wantErr:   true,
		},
		{
			name:      "valid minimal config",
			rawConfig: json.RawMessage(`{"agents":{"primary":{"provider":"ollama","url":"http://localhost:11434","model":"qwen3"}}}`),
			wantErr:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{
				Logger: slog.Default(),
			}

			_, err := NewComponent(tt.rawConfig, deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewComponent_AppliesDefaults(t *testing.T) {
	deps := component.Dependencies{Logger: slog.Default()}
	raw := json.RawMessage(`{"agents":{"primary":{"provider":"ollama","url":"http://localhost:11434","model":"qwen3"}}}`)

	disc, err := NewComponent(raw, deps)
	if err != nil {
		t.Fatalf("NewComponent() error = %v", err)
	}

	c, ok := disc.(*Component)
	if !ok {
		t.Fatalf("NewComponent() returned %T, want *Component", disc)
	}
	if c.config.StreamName != queue.StreamName {
		t.Errorf("StreamName = %q, want %q", c.config.StreamName, queue.StreamName)
	}
	if c.config.ConsumerName != "coordinator" {
		t.Errorf("ConsumerName = %q, want coordinator", c.config.ConsumerName)
	}
	if c.config.GetAckWait() != 5*time.Minute {
		t.Errorf("AckWait = %v, want 5m", c.config.GetAckWait())
	}
	if c.config.MaxDeliver != 5 {
		t.Errorf("MaxDeliver = %d, want 5", c.config.MaxDeliver)
	}
	if c.config.Ports == nil {
		t.Error("Ports should be populated from defaults")
	}
}

func TestComponent_StartWithoutNATSClient(t *testing.T) {
	c := &Component{
		name:   "coordinator",
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() should return error when NATS client is nil")
	}

	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if running {
		t.Error("Component should not be running after failed start")
	}
}

func TestComponent_StopWhenStopped(t *testing.T) {
	c := &Component{
		name:   "coordinator",
		logger: slog.Default(),
		config: DefaultConfig(),
	}

	if err := c.Initialize(); err != nil {
		t.Errorf("Initialize() error = %v, want nil", err)
	}
	if err := c.Stop(time.Second); err != nil {
		t.Error("Stop() should not error when already stopped")
	}
}

func TestComponent_Metadata(t *testing.T) {
	c := &Component{name: "coordinator", logger: slog.Default(), config: DefaultConfig()}

	meta := c.Meta()
	if meta.Name != "coordinator" {
		t.Errorf("Meta().Name = %q, want coordinator", meta.Name)
	}
	if meta.Type != "processor" {
		t.Errorf("Meta().Type = %q, want processor", meta.Type)
	}

	health := c.Health()
	if health.Healthy {
		t.Error("stopped component should not report healthy")
	}

	if got := len(c.InputPorts()); got != 1 {
		t.Errorf("InputPorts() returned %d ports, want 1", got)
	}
	if got := len(c.OutputPorts()); got != 1 {
		t.Errorf("OutputPorts() returned %d ports, want 1", got)
	}
}

func encodeEvent(t *testing.T, typ message.Type, payload message.Payload) []byte {
	t.Helper()
	baseMsg := message.NewBaseMessage(typ, payload, "test")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		t.Fatalf("marshal base message: %v", err)
	}
	return data
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    func(t *testing.T) []byte
		want    engine.Event
	}{
		{
			name:    "task created",
			subject: queue.TaskSubject(queue.SubjectCreated, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.TaskCreatedType, &queue.TaskCreatedPayload{TaskID: "t-1a2b3c4d"})
			},
			want: engine.TaskCreated{TaskID: "t-1a2b3c4d"},
		},
		{
			name:    "comment received",
			subject: queue.TaskSubject(queue.SubjectComment, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.CommentReceivedType, &queue.CommentReceivedPayload{
					TaskID: "t-1a2b3c4d", Author: "octocat", Body: "APPROVAL: Yes",
				})
			},
			want: engine.CommentReceived{TaskID: "t-1a2b3c4d", Author: "octocat", Text: "APPROVAL: Yes"},
		},
		{
			name:    "review with comments",
			subject: queue.TaskSubject(queue.SubjectReview, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.ReviewCompletedType, &queue.ReviewCompletedPayload{
					TaskID: "t-1a2b3c4d", Comments: []string{"rename this"},
				})
			},
			want: engine.ReviewCompleted{TaskID: "t-1a2b3c4d", Comments: []string{"rename this"}},
		},
		{
			name:    "approved review carries no feedback",
			subject: queue.TaskSubject(queue.SubjectReview, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.ReviewCompletedType, &queue.ReviewCompletedPayload{
					TaskID: "t-1a2b3c4d", Approved: true, Comments: []string{"lgtm"},
				})
			},
			want: engine.ReviewCompleted{TaskID: "t-1a2b3c4d"},
		},
		{
			name:    "merge completed",
			subject: queue.TaskSubject(queue.SubjectMerge, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.MergeCompletedType, &queue.MergeCompletedPayload{TaskID: "t-1a2b3c4d"})
			},
			want: engine.MergeCompleted{TaskID: "t-1a2b3c4d"},
		},
		{
			name:    "cancel requested",
			subject: queue.TaskSubject(queue.SubjectCancel, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.CancelType, &queue.CancelPayload{TaskID: "t-1a2b3c4d", Reason: "superseded"})
			},
			want: engine.CancelRequested{TaskID: "t-1a2b3c4d", Reason: "superseded"},
		},
		{
			name:    "stage due",
			subject: queue.TaskSubject(queue.SubjectStageDue, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.StageDueType, &queue.StageDuePayload{TaskID: "t-1a2b3c4d"})
			},
			want: engine.StageDue{TaskID: "t-1a2b3c4d"},
		},
		{
			name:    "request timed out",
			subject: queue.TaskSubject(queue.SubjectTimeout, "t-1a2b3c4d"),
			data: func(t *testing.T) []byte {
				return encodeEvent(t, queue.RequestTimedOutType, &queue.RequestTimedOutPayload{
					RequestID: "req-9f8e7d6c", TaskID: "t-1a2b3c4d", Checkpoint: "verification", Age: time.Hour,
				})
			},
			want: engine.RequestTimedOut{TaskID: "t-1a2b3c4d", RequestID: "req-9f8e7d6c", Checkpoint: "verification"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(tt.subject, tt.data(t))
			if err != nil {
				t.Fatalf("decodeEvent() error = %v", err)
			}
			switch want := tt.want.(type) {
			case engine.ReviewCompleted:
				gotEv, ok := got.(engine.ReviewCompleted)
				if !ok {
					t.Fatalf("decodeEvent() = %T, want ReviewCompleted", got)
				}
				if gotEv.TaskID != want.TaskID || len(gotEv.Comments) != len(want.Comments) {
					t.Errorf("decodeEvent() = %+v, want %+v", gotEv, want)
				}
			default:
				if got != tt.want {
					t.Errorf("decodeEvent() = %+v, want %+v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	if _, err := decodeEvent(queue.TaskSubject(queue.SubjectCreated, "t-1"), []byte("{not json")); err == nil {
		t.Error("decodeEvent() should fail on malformed JSON")
	}

	data := encodeEvent(t, queue.StatusType, &queue.StatusPayload{TaskID: "t-1", Stage: "testing"})
	if _, err := decodeEvent(queue.TaskSubject(queue.SubjectStatus, "t-1"), data); err == nil {
		t.Error("decodeEvent() should reject status subjects")
	}
}

func TestIsRequeueable(t *testing.T) {
	if !isRequeueable(engine.ErrBusy) {
		t.Error("ErrBusy should be requeueable")
	}
	if !isRequeueable(task.ErrConflict) {
		t.Error("task.ErrConflict should be requeueable")
	}
	if !isRequeueable(broker.ErrConflict) {
		t.Error("broker.ErrConflict should be requeueable")
	}
	if isRequeueable(errors.New("boom")) {
		t.Error("arbitrary errors should not be requeueable")
	}
}
