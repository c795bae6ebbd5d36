package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"hello-rpc/message"
)

// echoHandler: returns a successful response immediately.
func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

// slowHandler: sleeps 200ms before responding.
func slowHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	time.Sleep(200 * time.Millisecond)
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       []byte("ok"),
	}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", resp.Payload)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 500ms budget, fast handler — should pass through.
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}
	resp := handler(context.Background(), req)

	if !resp.OK() {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 50ms budget, handler needs 200ms — should time out.
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)

	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}
	resp := handler(context.Background(), req)

	if resp.Code != message.CodeTimeout {
		t.Fatalf("expect timeout code, got %v (%s)", resp.Code, resp.Error)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2 → first 2 pass immediately, 3rd is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if !resp.OK() {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), req)
	if resp.Code != message.CodeResourceExhausted {
		t.Fatalf("request 3 should be rate limited, got: %v (%s)", resp.Code, resp.Error)
	}
}

func TestRecovery(t *testing.T) {
	panicHandler := func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		panic("boom")
	}
	handler := RecoveryMiddleware(zap.NewNop())(panicHandler)

	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response after panic")
	}
	if resp.Code != message.CodeHandlerError {
		t.Fatalf("expect handler error code, got %v", resp.Code)
	}
}

func TestChain(t *testing.T) {
	// Recovery + Logging + Timeout combined — a request passes through all of them.
	chained := Chain(
		RecoveryMiddleware(zap.NewNop()),
		LoggingMiddleware(zap.NewNop()),
		TimeoutMiddleware(500*time.Millisecond),
	)
	handler := chained(echoHandler)

	req := &message.RPCMessage{ServiceMethod: "Greeter.SayHello"}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if !resp.OK() {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}
