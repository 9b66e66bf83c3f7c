package reliability

import "testing"

func TestDurableCodecRoundTrip(t *testing.T) {
	body := []byte("a durable sample body long enough to compress meaningfully, repeated, repeated, repeated")
	compressed := compressDurable(body)
	if len(compressed) == 0 {
		t.Fatalf("compressDurable: got empty output")
	}
	got := decompressDurable(compressed)
	if string(got) != string(body) {
		t.Errorf("decompressDurable: got %q, want %q", got, body)
	}
}

func TestDurableCodecEmptyBody(t *testing.T) {
	if got := compressDurable(nil); got != nil {
		t.Errorf("compressDurable(nil): got %v, want nil", got)
	}
	if got := decompressDurable(nil); got != nil {
		t.Errorf("decompressDurable(nil): got %v, want nil", got)
	}
}

func TestReaderRecordStashAndFetchDurableRoundTrips(t *testing.T) {
	r := NewReaderRecord(guidN(2), true)
	r.StashDurable(5, QueueElement{Seq: 5, Body: []byte("historic sample payload")})

	elem, ok := r.FetchDurable(5)
	if !ok {
		t.Fatalf("FetchDurable(5): got ok=false, want true")
	}
	if string(elem.Body) != "historic sample payload" {
		t.Errorf("FetchDurable(5).Body: got %q, want %q", elem.Body, "historic sample payload")
	}
	if r.DurableTimestamp.IsZero() {
		t.Errorf("DurableTimestamp: got zero, want set by StashDurable")
	}
}
