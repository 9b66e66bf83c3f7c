package reliability

import (
	"context"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// deliveryNotice is one sample ready for in-order application delivery.
type deliveryNotice struct {
	reader rtps.Guid
	writer rtps.Guid
	seq    rtps.SequenceNumber
	body   []byte
}

// heldDelivery drains reordered samples on a single goroutine — the
// "reactor thread" spec.md §9 requires — so the application never
// observes two deliveries for the same reader running concurrently,
// matching the teacher's single-consumer channel pattern in
// ARQConn.readLoop.
type heldDelivery struct {
	notices chan deliveryNotice
	deliver func(reader, writer rtps.Guid, seq rtps.SequenceNumber, body []byte)
}

func newHeldDelivery(queueDepth int, deliver func(reader, writer rtps.Guid, seq rtps.SequenceNumber, body []byte)) *heldDelivery {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &heldDelivery{
		notices: make(chan deliveryNotice, queueDepth),
		deliver: deliver,
	}
}

// post enqueues a notice on the buffered channel that run drains
// independently; it blocks only when queueDepth notices are already
// waiting.
func (h *heldDelivery) post(reader, writer rtps.Guid, seq rtps.SequenceNumber, body []byte) {
	h.notices <- deliveryNotice{reader: reader, writer: writer, seq: seq, body: body}
}

// run drains notices until ctx is cancelled; intended to be the sole
// goroutine calling h.deliver.
func (h *heldDelivery) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-h.notices:
			h.deliver(n.reader, n.writer, n.seq, n.body)
		}
	}
}
