package audit

import (
	"strings"
	"sync"
	"testing"
)

func TestTrailRecordsRedactedMessages(t *testing.T) {
	trail := NewTrail("pepper", 64)
	trail.RecordEvent("n1", EventCreated)
	trail.RecordMessage("n1", "user1", "secret offer terms")
	trail.RecordEvent("n1", EventCompleted)

	recs := trail.For("n1")
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Event != EventCreated || recs[2].Event != EventCompleted {
		t.Fatalf("unexpected order: %+v", recs)
	}
	msg := recs[1]
	if msg.Speaker != "user1" || msg.MessageLength != len("secret offer terms") {
		t.Fatalf("unexpected message record: %+v", msg)
	}
	if msg.MessageHash == "" || strings.Contains(msg.MessageHash, "secret") {
		t.Fatalf("message body leaked: %+v", msg)
	}
	if len(msg.MessageHash) != 64 {
		t.Fatalf("expected hex sha256, got %q", msg.MessageHash)
	}
}

func TestTrailSaltChangesHash(t *testing.T) {
	a := NewTrail("salt-a", 8)
	b := NewTrail("salt-b", 8)
	a.RecordMessage("n", "user1", "same text")
	b.RecordMessage("n", "user1", "same text")
	if a.For("n")[0].MessageHash == b.For("n")[0].MessageHash {
		t.Fatal("different salts must produce different hashes")
	}
}

func TestTrailBounded(t *testing.T) {
	trail := NewTrail("", 3)
	for i := 0; i < 10; i++ {
		trail.RecordMessage("n1", "user1", "m")
	}
	recs := trail.For("n1")
	if len(recs) != 3 {
		t.Fatalf("expected trail capped at 3, got %d", len(recs))
	}
}

func TestTrailDrop(t *testing.T) {
	trail := NewTrail("", 8)
	trail.RecordEvent("n1", EventCreated)
	trail.RecordEvent("n1", EventClosed)
	trail.Drop("n1")
	if got := trail.For("n1"); len(got) != 0 {
		t.Fatalf("expected empty trail after drop, got %d", len(got))
	}
}

func TestTrailNilSafe(t *testing.T) {
	var trail *Trail
	trail.RecordEvent("n1", EventCreated)
	trail.RecordMessage("n1", "user1", "m")
	trail.Drop("n1")
	if got := trail.For("n1"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestTrailConcurrentAppends(t *testing.T) {
	trail := NewTrail("", 1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				trail.RecordMessage("n1", "user2", "m")
			}
		}()
	}
	wg.Wait()
	if got := len(trail.For("n1")); got != 500 {
		t.Fatalf("expected 500 records, got %d", got)
	}
}
