package reliability

import (
	"testing"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

func TestReliableWriterCustomizeQueueElement(t *testing.T) {
	t.Run("正常数据元素生成DATA元消息并进入发送缓冲区", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("x")}, &out)
		if len(out) != 1 {
			t.Fatalf("out length: got %d, want 1", len(out))
		}
		if _, ok := out[0].Submessage.(*rtps.DataSubmessage); !ok {
			t.Errorf("out[0].Submessage type: got %T, want *rtps.DataSubmessage", out[0].Submessage)
		}
		if !w.SendBuff.Contains(1) {
			t.Errorf("SendBuff.Contains(1): got false, want true")
		}
	})

	t.Run("跳过序号时插入GAP元消息", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 3, Body: []byte("x")}, &out)
		var gap *rtps.GapSubmessage
		for _, m := range out {
			if g, ok := m.Submessage.(*rtps.GapSubmessage); ok {
				gap = g
			}
		}
		if gap == nil {
			t.Fatalf("saw GapSubmessage on skip: got false, want true")
		}
		if gap.GapStart != 1 {
			t.Errorf("gap.GapStart: got %v, want 1", gap.GapStart)
		}
		if !gap.GapList.Contains(1) || !gap.GapList.Contains(2) {
			t.Errorf("gap.GapList: got %v, want to contain [1,2]", gap.GapList.Ranges())
		}
		if gap.GapList.Contains(3) {
			t.Errorf("gap.GapList: got to contain 3, want skipped range only [1,2]")
		}
	})

	t.Run("历史数据元素存入读者的DurableData而不直接发送", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), true, 16, nil)
		rGuid := guidN(2)
		w.AddReader(rGuid, true)
		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{
			Kind: ElementData, Seq: 1, Body: []byte("x"),
			Historic: true, SubscriptionID: rGuid,
		}, &out)
		if len(out) != 0 {
			t.Errorf("out length for historic element: got %d, want 0", len(out))
		}
		if _, ok := w.RemoteReaders[rGuid].DurableData[1]; !ok {
			t.Errorf("DurableData[1]: got absent, want present")
		}
	})
}

func TestReliableWriterOnAckNack(t *testing.T) {
	t.Run("未关联的读者返回ErrNotAssociated", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		err := w.OnAckNack(guidN(9), 1, 1, rtps.NewSequenceSet(), true, time.Now(), nil, nil)
		if err != ErrNotAssociated {
			t.Errorf("err: got %v, want ErrNotAssociated", err)
		}
	})

	t.Run("重复的count返回ErrDuplicateSubmessage", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		w.AddReader(rGuid, false)
		if err := w.OnAckNack(rGuid, 1, 1, rtps.NewSequenceSet(), true, time.Now(), nil, nil); err != nil {
			t.Fatalf("first OnAckNack: %v", err)
		}
		if err := w.OnAckNack(rGuid, 1, 1, rtps.NewSequenceSet(), true, time.Now(), nil, nil); err != ErrDuplicateSubmessage {
			t.Errorf("err: got %v, want ErrDuplicateSubmessage", err)
		}
	})

	t.Run("累计确认推进后未被固定的发送缓冲区条目被释放", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		w.AddReader(rGuid, false)
		var out []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("a")}, &out)
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 2, Body: []byte("b")}, &out)

		if err := w.OnAckNack(rGuid, 1, 3, rtps.NewSequenceSet(), true, time.Now(), nil, nil); err != nil {
			t.Fatalf("OnAckNack: %v", err)
		}
		if w.SendBuff.Contains(1) || w.SendBuff.Contains(2) {
			t.Errorf("SendBuff after full ack: got entries still present, want released")
		}
	})

	t.Run("持久化数据全部被确认后从DurableData清空", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), true, 16, nil)
		rGuid := guidN(2)
		rec := w.AddReader(rGuid, true)
		rec.DurableData[1] = QueueElement{Seq: 1, Body: []byte("a")}

		if err := w.OnAckNack(rGuid, 1, 2, rtps.NewSequenceSet(), true, time.Now(), nil, nil); err != nil {
			t.Fatalf("OnAckNack: %v", err)
		}
		if len(rec.DurableData) != 0 {
			t.Errorf("DurableData after full ack: got %d entries, want 0", len(rec.DurableData))
		}
	})

	t.Run("请求历史数据时通过sendDirect直接重发", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), true, 16, nil)
		rGuid := guidN(2)
		rec := w.AddReader(rGuid, true)
		rec.DurableData[1] = QueueElement{Seq: 1, Body: []byte("a")}

		missing := rtps.NewSequenceSet()
		missing.Insert(1)
		var sentSeq rtps.SequenceNumber
		err := w.OnAckNack(rGuid, 1, 1, missing, false, time.Now(),
			func(seq rtps.SequenceNumber, chain FragmentChain, to rtps.Guid) { sentSeq = seq },
			func(to rtps.Guid, gapStart rtps.SequenceNumber, gapList *rtps.SequenceSet) {},
		)
		if err != nil {
			t.Fatalf("OnAckNack: %v", err)
		}
		if sentSeq != 1 {
			t.Errorf("sentSeq: got %v, want 1", sentSeq)
		}
	})
}

func TestReliableWriterFireHeartbeatTick(t *testing.T) {
	t.Run("未握手且发送缓冲区为空的读者收到定向的预关联心跳", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		w.AddReader(rGuid, false)

		var out []MetaSubmessage
		w.FireHeartbeatTick(time.Now(), time.Hour, &out)

		var directed *rtps.HeartbeatSubmessage
		for _, m := range out {
			hb, ok := m.Submessage.(*rtps.HeartbeatSubmessage)
			if ok && m.Dst == rGuid {
				directed = hb
			}
		}
		if directed == nil {
			t.Fatalf("directed pre-association heartbeat to %v: got none, want one", rGuid)
		}
	})

	t.Run("已握手的读者不再收到定向预关联心跳", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		rec := w.AddReader(rGuid, false)
		rec.HandshakeDone = true

		var out []MetaSubmessage
		w.FireHeartbeatTick(time.Now(), time.Hour, &out)

		for _, m := range out {
			if _, ok := m.Submessage.(*rtps.HeartbeatSubmessage); ok && m.Dst == rGuid {
				t.Errorf("directed heartbeat to handshaken reader: got one, want none")
			}
		}
	})

	t.Run("发送缓冲区非空时不发送定向预关联心跳", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		w.AddReader(rGuid, false)
		var produced []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("x")}, &produced)

		var out []MetaSubmessage
		w.FireHeartbeatTick(time.Now(), time.Hour, &out)

		for _, m := range out {
			if _, ok := m.Submessage.(*rtps.HeartbeatSubmessage); ok && m.Dst == rGuid {
				t.Errorf("directed pre-association heartbeat while SendBuff non-empty: got one, want none")
			}
		}
	})
}

func TestReliableWriterNackReply(t *testing.T) {
	t.Run("没有待处理请求时NackReply不产生输出", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		w.AddReader(guidN(2), false)
		var out []MetaSubmessage
		w.NackReply(
			func(rtps.SequenceNumber, FragmentChain, []rtps.Guid) {},
			func(rtps.SequenceNumber, rtps.FragmentNumber, FragmentChain, []rtps.Guid) {},
			&out,
		)
		if len(out) != 0 {
			t.Errorf("out length: got %d, want 0", len(out))
		}
	})

	t.Run("缓冲区中存在的序号通过sendDirect重发", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		rec := w.AddReader(rGuid, false)
		var custOut []MetaSubmessage
		w.CustomizeQueueElement(QueueElement{Kind: ElementData, Seq: 1, Body: []byte("a")}, &custOut)
		rec.RequestedChanges = append(rec.RequestedChanges, func() *rtps.SequenceSet {
			s := rtps.NewSequenceSet()
			s.Insert(1)
			return s
		}())

		var resent []rtps.SequenceNumber
		var out []MetaSubmessage
		w.NackReply(
			func(seq rtps.SequenceNumber, chain FragmentChain, to []rtps.Guid) { resent = append(resent, seq) },
			func(rtps.SequenceNumber, rtps.FragmentNumber, FragmentChain, []rtps.Guid) {},
			&out,
		)
		if len(resent) != 1 || resent[0] != 1 {
			t.Errorf("resent: got %v, want [1]", resent)
		}
		if len(out) != 0 {
			t.Errorf("out length when nothing missing: got %d, want 0", len(out))
		}
	})

	t.Run("缓冲区中不存在的序号产生合并的GAP", func(t *testing.T) {
		w := NewReliableWriter(guidN(1), false, 16, nil)
		rGuid := guidN(2)
		rec := w.AddReader(rGuid, false)
		rec.RequestedChanges = append(rec.RequestedChanges, func() *rtps.SequenceSet {
			s := rtps.NewSequenceSet()
			s.Insert(5)
			return s
		}())

		var out []MetaSubmessage
		w.NackReply(
			func(rtps.SequenceNumber, FragmentChain, []rtps.Guid) {},
			func(rtps.SequenceNumber, rtps.FragmentNumber, FragmentChain, []rtps.Guid) {},
			&out,
		)
		if len(out) != 1 {
			t.Fatalf("out length: got %d, want 1", len(out))
		}
		gap, ok := out[0].Submessage.(*rtps.GapSubmessage)
		if !ok {
			t.Fatalf("out[0].Submessage type: got %T, want *rtps.GapSubmessage", out[0].Submessage)
		}
		if gap.GapStart != 5 {
			t.Errorf("gap.GapStart: got %v, want 5", gap.GapStart)
		}
	})
}
