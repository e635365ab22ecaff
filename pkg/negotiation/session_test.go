package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdict"
)

func TestAppendInvalidSpeaker(t *testing.T) {
	sess := NewStore(0, 0).Create()
	if _, err := sess.Append("user3", "hi"); !errors.Is(err, ErrInvalidSpeaker) {
		t.Fatalf("expected ErrInvalidSpeaker, got %v", err)
	}
	if _, err := sess.Append("", "hi"); !errors.Is(err, ErrInvalidSpeaker) {
		t.Fatalf("expected ErrInvalidSpeaker for empty speaker, got %v", err)
	}
}

func TestCountsMatchTranscriptAtEveryStep(t *testing.T) {
	sess := NewStore(0, 0).Create()
	speakers := []string{SpeakerUser1, SpeakerUser2}
	for i := 0; i < TotalQuota; i++ {
		if _, err := sess.Append(speakers[i%2], fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		snap := sess.Snapshot()
		if snap.User1+snap.User2 != len(snap.Messages) {
			t.Fatalf("count invariant broken at step %d: %d+%d != %d", i, snap.User1, snap.User2, len(snap.Messages))
		}
		if snap.User1 > PerSpeakerQuota || snap.User2 > PerSpeakerQuota {
			t.Fatalf("quota exceeded at step %d: %+v", i, snap)
		}
	}
}

func TestQuotaBlocksSixthMessage(t *testing.T) {
	sess := NewStore(0, 0).Create()
	for i := 0; i < PerSpeakerQuota; i++ {
		if _, err := sess.Append(SpeakerUser1, "offer"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	_, err := sess.Append(SpeakerUser1, "one more")
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if got := quotaErr.Error(); got != "User1 has already sent 5 messages" {
		t.Fatalf("unexpected quota message: %q", got)
	}
}

func TestQuotaErrorUser2Message(t *testing.T) {
	err := &QuotaError{Speaker: SpeakerUser2}
	if err.Error() != "User2 has already sent 5 messages" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCompletionExactlyAtTenth(t *testing.T) {
	sess := NewStore(0, 0).Create()
	for i := 0; i < TotalQuota; i++ {
		speaker := SpeakerUser1
		if i%2 == 1 {
			speaker = SpeakerUser2
		}
		p, err := sess.Append(speaker, fmt.Sprintf("point %d", i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i < TotalQuota-1 {
			if p.Completed || p.Status != StatusInProgress {
				t.Fatalf("completed too early at message %d: %+v", i+1, p)
			}
			if p.Remaining != TotalQuota-(i+1) {
				t.Fatalf("wrong remaining at %d: %d", i+1, p.Remaining)
			}
		} else {
			if !p.Completed || p.Status != StatusCompleted {
				t.Fatalf("expected completion on 10th message: %+v", p)
			}
			if len(p.Transcript) != TotalQuota {
				t.Fatalf("expected full transcript copy, got %d messages", len(p.Transcript))
			}
		}
	}

	// 11th message is blocked for both parties.
	for _, speaker := range []string{SpeakerUser1, SpeakerUser2} {
		var quotaErr *QuotaError
		if _, err := sess.Append(speaker, "late"); !errors.As(err, &quotaErr) {
			t.Fatalf("expected quota error for %s after completion, got %v", speaker, err)
		}
	}
}

func TestMessageOrderPreserved(t *testing.T) {
	sess := NewStore(0, 0).Create()
	for i := 0; i < 6; i++ {
		speaker := SpeakerUser1
		if i%2 == 1 {
			speaker = SpeakerUser2
		}
		if _, err := sess.Append(speaker, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	snap := sess.Snapshot()
	for i, m := range snap.Messages {
		if m.Text != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %q", i, m.Text)
		}
	}
}

func TestConcurrentAppendsRespectQuota(t *testing.T) {
	sess := NewStore(0, 0).Create()
	const attempts = 50
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.Append(SpeakerUser1, "racy"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	failures := 0
	for range errs {
		failures++
	}
	if failures != attempts-PerSpeakerQuota {
		t.Fatalf("expected %d rejections, got %d", attempts-PerSpeakerQuota, failures)
	}
	snap := sess.Snapshot()
	if snap.User1 != PerSpeakerQuota || len(snap.Messages) != PerSpeakerQuota {
		t.Fatalf("quota breached under concurrency: %+v", snap)
	}
}

func TestAttachVerdictFirstWriteWins(t *testing.T) {
	sess := NewStore(0, 0).Create()
	sess.AttachVerdict(verdict.Result{Summary: "first", Compromise: "first"})
	sess.AttachVerdict(verdict.Result{Summary: "second", Compromise: "second"})
	snap := sess.Snapshot()
	if snap.Verdict == nil || snap.Verdict.Summary != "first" {
		t.Fatalf("expected first verdict to stick, got %+v", snap.Verdict)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	sess := NewStore(0, 0).Create()
	if _, err := sess.Append(SpeakerUser1, "original"); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := sess.Snapshot()
	snap.Messages[0].Text = "mutated"
	if sess.Snapshot().Messages[0].Text != "original" {
		t.Fatal("snapshot aliases internal transcript")
	}
}
