package transport

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassification(t *testing.T) {
	t.Parallel()
	rejected := &Error{Kind: KindRejected, Op: "sendMessage", Code: 400, Err: errors.New("chat not found")}
	transient := &Error{Kind: KindTransient, Op: "sendMessage", Code: 429, Err: errors.New("too many requests")}

	if IsTransient(rejected) || !IsRejected(rejected) {
		t.Fatal("rejected misclassified")
	}
	if !IsTransient(transient) || IsRejected(transient) {
		t.Fatal("transient misclassified")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("unclassified errors should retry")
	}
	wrapped := fmt.Errorf("dispatch: %w", rejected)
	if Classify(wrapped) != KindRejected {
		t.Fatalf("Classify(wrapped) = %v", Classify(wrapped))
	}
	if got := rejected.Error(); got != "sendMessage: chat not found (code=400)" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestConnReset(t *testing.T) {
	t.Parallel()
	if !IsConnReset(fmt.Errorf("post: %w", syscall.ECONNRESET)) {
		t.Fatal("ECONNRESET not detected")
	}
	if !IsConnReset(errors.New("read tcp 1.2.3.4:443: connection reset by peer")) {
		t.Fatal("message form not detected")
	}
	if IsConnReset(errors.New("bad request")) {
		t.Fatal("false positive")
	}
	if got := Describe(errors.New("connection reset by peer")); got != ConnResetMessage {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe(&Error{Kind: KindRejected, Err: errors.New("chat not found")}); got != "chat not found" {
		t.Fatalf("Describe = %q", got)
	}
}
