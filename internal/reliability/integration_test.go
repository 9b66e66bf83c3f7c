package reliability

import (
	"testing"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

// 这些测试直接在ReliableWriter/ReliableReader之间传递已解码的提交消息，
// 绕开线路编解码，专注于验证可靠性状态机本身的端到端行为。

func TestIntegrationHappyPath(t *testing.T) {
	t.Run("正常路径：写者发送，读者确认，缓冲区被释放", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		r := NewReliableReader(guidN(2), false, nil)
		rRec := w.AddReader(r.Guid, false)
		_ = rRec
		r.AddWriter(w.Guid)

		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("hello")}, &out)
		data := out[0].Submessage.(*rtps.DataSubmessage)

		var delivered [][]byte
		r.OnData(w.Guid, data.WriterSN, data.SerializedData, true, func(seq rtps.SequenceNumber, body []byte) {
			delivered = append(delivered, body)
		})
		if len(delivered) != 1 || string(delivered[0]) != "hello" {
			t.Fatalf("delivered: got %v, want [hello]", delivered)
		}

		if err := w.OnAckNack(r.Guid, 1, 2, rtps.NewSequenceSet(), true, time.Now(), nil, nil); err != nil {
			t.Fatalf("OnAckNack: %v", err)
		}
		if w.SendBuff.Contains(1) {
			t.Errorf("SendBuff.Contains(1) after full ack: got true, want false")
		}
	})
}

func TestIntegrationLossAndRecovery(t *testing.T) {
	t.Run("丢失与恢复：丢失的序号通过NackReply重发", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		r := NewReliableReader(guidN(2), false, nil)
		w.AddReader(r.Guid, false)
		wr := r.AddWriter(w.Guid)

		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("a")}, &out)
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 2, Body: []byte("b")}, &out)
		// Sample 1 is lost in transit; only sample 2 arrives at the reader.
		data2 := out[1].Submessage.(*rtps.DataSubmessage)
		var delivered []rtps.SequenceNumber
		r.OnData(w.Guid, data2.WriterSN, data2.SerializedData, true, func(seq rtps.SequenceNumber, body []byte) {
			delivered = append(delivered, seq)
		})
		if len(delivered) != 0 {
			t.Fatalf("delivered before recovery: got %v, want []", delivered)
		}

		if err := r.OnHeartbeat(w.Guid, 1, 1, 2, true, false, time.Now(), func() {}, func() {}); err != nil {
			t.Fatalf("OnHeartbeat: %v", err)
		}
		replies := r.GenerateReplies(noPartial)
		if len(replies) != 1 {
			t.Fatalf("replies: got %d, want 1", len(replies))
		}
		requested := rtps.NewSequenceSet()
		requested.InsertFromBitmap(replies[0].Base, replies[0].NumBits, replies[0].Bits)
		if !requested.Contains(1) {
			t.Fatalf("requested.Contains(1): got false, want true")
		}

		rec := w.RemoteReaders[r.Guid]
		rec.RequestedChanges = append(rec.RequestedChanges, requested)
		var resent []rtps.SequenceNumber
		var nackOut []MetaSubmessage
		w.NackReply(
			func(seq rtps.SequenceNumber, chain FragmentChain, to []rtps.Guid) { resent = append(resent, seq) },
			func(rtps.SequenceNumber, rtps.FragmentNumber, FragmentChain, []rtps.Guid) {},
			&nackOut,
		)
		if len(resent) != 1 || resent[0] != 1 {
			t.Fatalf("resent: got %v, want [1]", resent)
		}

		r.OnData(w.Guid, 1, []byte("a"), true, func(seq rtps.SequenceNumber, body []byte) {
			delivered = append(delivered, seq)
		})
		if len(delivered) != 2 {
			t.Fatalf("delivered after recovery: got %v, want 2 entries", delivered)
		}
		_ = wr
	})
}

func TestIntegrationDurableBackfill(t *testing.T) {
	t.Run("持久化回填：迟到的持久化读者收到全部历史样本", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), true, 16, nil)

		r := NewReliableReader(guidN(2), true, nil)
		rec := w.AddReader(r.Guid, true)
		r.AddWriter(w.Guid)
		rec.DurableData[1] = QueueElement{Seq: 1, Body: []byte("a")}
		rec.DurableTimestamp = time.Now()

		missing := rtps.NewSequenceSet()
		missing.Insert(1)
		var sent []rtps.SequenceNumber
		err := w.OnAckNack(r.Guid, 1, 1, missing, false, time.Now(),
			func(seq rtps.SequenceNumber, chain FragmentChain, to rtps.Guid) { sent = append(sent, seq) },
			func(to rtps.Guid, gapStart rtps.SequenceNumber, gapList *rtps.SequenceSet) {},
		)
		if err != nil {
			t.Fatalf("OnAckNack: %v", err)
		}
		if len(sent) != 1 || sent[0] != 1 {
			t.Fatalf("sent: got %v, want [1]", sent)
		}
	})
}

func TestIntegrationGapOnDeliberateSkip(t *testing.T) {
	t.Run("主动跳过序号时读者收到GAP并能继续推进", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		r := NewReliableReader(guidN(2), false, nil)
		w.AddReader(r.Guid, false)
		r.AddWriter(w.Guid)

		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("a")}, &out)
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 4, Body: []byte("d")}, &out)

		var delivered []rtps.SequenceNumber
		deliver := func(seq rtps.SequenceNumber, body []byte) { delivered = append(delivered, seq) }
		for _, m := range out {
			switch sub := m.Submessage.(type) {
			case *rtps.DataSubmessage:
				r.OnData(w.Guid, sub.WriterSN, sub.SerializedData, true, deliver)
			case *rtps.GapSubmessage:
				r.OnGap(w.Guid, sub.GapStart, sub.GapStart, sub.GapList, deliver)
			}
		}
		if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 4 {
			t.Fatalf("delivered: got %v, want [1 4]", delivered)
		}
	})
}

func TestIntegrationFragmentedSample(t *testing.T) {
	t.Run("分片样本在全部分片到齐前不算完成", func(t *testing.T) {
		fs := rtps.NewFragmentSet()
		fs.InsertRange(rtps.FragmentRange{Low: 1, High: 2})
		if fs.Complete(3) {
			t.Errorf("Complete(3) with only fragments 1-2: got true, want false")
		}
		missing := fs.MissingFragmentRanges(1, 3)
		if len(missing) != 1 || missing[0].Low != 3 || missing[0].High != 3 {
			t.Errorf("missing fragment ranges: got %v, want [{3 3}]", missing)
		}
		fs.Insert(3)
		if len(fs.MissingFragmentRanges(1, 3)) != 0 {
			t.Errorf("missing after completing: got non-empty, want empty")
		}
	})
}
