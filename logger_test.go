package epoxy

import (
	"testing"
)

func TestSetHandler_RejectsNil(t *testing.T) {
	if err := SetHandler(nil); err == nil {
		t.Fatal("expected error installing a nil handler")
	}
}

func TestSetHandler_RejectsSecondInstall(t *testing.T) {
	defer RemoveHandler()

	if err := SetHandler(func(Severity, string, map[string]any) {}); err != nil {
		t.Fatalf("first SetHandler failed: %v", err)
	}
	if err := SetHandler(func(Severity, string, map[string]any) {}); err == nil {
		t.Fatal("expected error installing a second handler")
	}
}

func TestSetHandler_RemoveThenReinstall(t *testing.T) {
	defer RemoveHandler()

	if err := SetHandler(func(Severity, string, map[string]any) {}); err != nil {
		t.Fatalf("first SetHandler failed: %v", err)
	}
	RemoveHandler()
	if err := SetHandler(func(Severity, string, map[string]any) {}); err != nil {
		t.Fatalf("SetHandler after RemoveHandler failed: %v", err)
	}
}

func TestEmit_ReachesInstalledHandler(t *testing.T) {
	defer RemoveHandler()

	type record struct {
		severity Severity
		message  string
		fields   map[string]any
	}
	recorded := make(chan record, 1)

	if err := SetHandler(func(sev Severity, msg string, fields map[string]any) {
		recorded <- record{sev, msg, fields}
	}); err != nil {
		t.Fatalf("SetHandler failed: %v", err)
	}

	defaultLogger().Info("hello", "key", "value")

	select {
	case rec := <-recorded:
		if rec.severity != SeverityInformation {
			t.Errorf("severity = %v, want %v", rec.severity, SeverityInformation)
		}
		if rec.message != "hello" {
			t.Errorf("message = %q, want %q", rec.message, "hello")
		}
		if rec.fields["key"] != "value" {
			t.Errorf("fields[key] = %v, want %q", rec.fields["key"], "value")
		}
	default:
		t.Fatal("handler was not invoked")
	}
}

func TestEmit_NoHandlerIsANoOp(t *testing.T) {
	RemoveHandler()
	defaultLogger().Error("should not panic")
}

func TestEmit_PanicsInHandlerAreSuppressed(t *testing.T) {
	defer RemoveHandler()

	if err := SetHandler(func(Severity, string, map[string]any) {
		panic("boom")
	}); err != nil {
		t.Fatalf("SetHandler failed: %v", err)
	}

	defaultLogger().Warn("should not propagate the panic")
}

func TestSeverity_Ordering(t *testing.T) {
	if !(SeverityDebug < SeverityInformation && SeverityInformation < SeverityWarning &&
		SeverityWarning < SeverityError && SeverityError < SeverityFatal) {
		t.Fatal("severity levels are not strictly ordered Debug < Information < Warning < Error < Fatal")
	}
}

type capturingLogger struct {
	lastMsg string
}

func (l *capturingLogger) Debug(msg string, _ ...any) { l.lastMsg = msg }
func (l *capturingLogger) Info(msg string, _ ...any)  { l.lastMsg = msg }
func (l *capturingLogger) Warn(msg string, _ ...any)  { l.lastMsg = msg }
func (l *capturingLogger) Error(msg string, _ ...any) { l.lastMsg = msg }

func TestLogger_CustomImplementationSatisfiesInterface(t *testing.T) {
	var logger Logger = &capturingLogger{}
	logger.Info("test")
	if logger.(*capturingLogger).lastMsg != "test" {
		t.Error("custom Logger was not invoked")
	}
}
