package grpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chordring/internal/chordnode"
	"chordring/internal/message"
)

func TestEncodeDecodeRoundTripsEveryMessageKind(t *testing.T) {
	cases := []message.Message{
		message.Lookup{Origin: chordnode.NodeInfo{Address: "a", ID: 1}, Key: 5, TimeToLive: 3},
		message.LookupResult{Origin: chordnode.NodeInfo{Address: "a", ID: 1}, Responder: chordnode.NodeInfo{Address: "b", ID: 2}, Key: 5},
		message.RequestPredecessor{Origin: chordnode.NodeInfo{Address: "a", ID: 1}},
		message.PredecessorResponse{Origin: chordnode.NodeInfo{Address: "a", ID: 1}, Responder: chordnode.NodeInfo{Address: "b", ID: 2}},
		message.Notify{Origin: chordnode.NodeInfo{Address: "a", ID: 1}},
	}

	for _, original := range cases {
		req, err := encodeMessage(original)
		if err != nil {
			t.Fatalf("encodeMessage(%T): %v", original, err)
		}
		decoded, err := decodeMessage(req.Kind, req.Payload)
		if err != nil {
			t.Fatalf("decodeMessage(%T): %v", original, err)
		}

		wantJSON, _ := json.Marshal(original)
		gotJSON, _ := json.Marshal(decoded)
		if string(wantJSON) != string(gotJSON) {
			t.Errorf("round trip mismatch for %T: want %s, got %s", original, wantJSON, gotJSON)
		}
	}
}

func TestDecodeMessageRejectsUnknownKind(t *testing.T) {
	if _, err := decodeMessage("nonsense", json.RawMessage(`{}`)); err == nil {
		t.Error("expected an error for an unrecognized message kind")
	}
}

func TestSendServeRoundTripOverLoopback(t *testing.T) {
	server, err := New(chordnode.NodeInfo{Address: "server", ID: 1}, "127.0.0.1:0", false, nil)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan message.Message, 1)
	var once sync.Once
	go func() {
		_ = server.Serve(ctx, func(_ context.Context, from chordnode.NodeInfo, msg message.Message) {
			once.Do(func() { received <- msg })
		})
	}()

	// give the server goroutine time to start accepting.
	time.Sleep(50 * time.Millisecond)

	client, err := New(chordnode.NodeInfo{Address: "client", ID: 2}, "127.0.0.1:0", false, nil)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	defer client.Close()

	target := chordnode.NodeInfo{Address: server.Addr(), ID: 1}
	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, target, message.Notify{Origin: chordnode.NodeInfo{Address: "client", ID: 2}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		notify, ok := msg.(message.Notify)
		if !ok {
			t.Fatalf("expected a Notify, got %T", msg)
		}
		if notify.Origin.ID != 2 {
			t.Errorf("Origin.ID = %d, want 2", notify.Origin.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to receive the delivery")
	}
}
