package hub

import "testing"

func TestBroadcastMatchesAndDrops(t *testing.T) {
	h := New(nil)
	staff := &Client{ID: "staff", Send: make(chan []byte, 1), Subscription: Subscription{View: "staff", Staff: true}}
	kiosk := &Client{ID: "kiosk", Send: make(chan []byte, 1), Subscription: Subscription{View: "kiosk"}}
	h.Register(staff)
	h.Register(kiosk)

	h.Broadcast([]byte("one"), func(sub Subscription) bool { return sub.Staff })
	if len(staff.Send) != 1 || len(kiosk.Send) != 0 {
		t.Fatalf("unexpected delivery: staff=%d kiosk=%d", len(staff.Send), len(kiosk.Send))
	}

	// buffer is full; the second message is dropped instead of blocking
	h.Broadcast([]byte("two"), nil)
	if got := string(<-staff.Send); got != "one" {
		t.Fatalf("staff got %q", got)
	}
	if len(kiosk.Send) != 1 {
		t.Fatalf("kiosk should receive unfiltered broadcast")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New(nil)
	client := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("send channel should be closed")
	}
	if h.SendTo(client, []byte("late")) {
		t.Fatalf("delivery to unregistered client")
	}
	if h.Len() != 0 {
		t.Fatalf("hub still holds client")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","view":"status","ticket_id":"t-1"}`))
	if !ok || msg.View != "status" || msg.TicketID != "t-1" {
		t.Fatalf("unexpected parse: %+v ok=%v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"dance"}`)); ok {
		t.Fatalf("unknown action accepted")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatalf("garbage accepted")
	}
}
