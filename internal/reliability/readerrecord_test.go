package reliability

import (
	"testing"
	"time"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

func TestReaderRecord(t *testing.T) {
	t.Run("没有历史数据时AllDurableAcked总是为真", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), true)
		if !r.AllDurableAcked(0) {
			t.Errorf("AllDurableAcked(0) empty: got false, want true")
		}
	})

	t.Run("AllDurableAcked比较最大历史序号", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), true)
		r.DurableData[1] = QueueElement{Seq: 1}
		r.DurableData[3] = QueueElement{Seq: 3}
		if r.AllDurableAcked(3) {
			t.Errorf("AllDurableAcked(3): got true, want false")
		}
		if !r.AllDurableAcked(4) {
			t.Errorf("AllDurableAcked(4): got false, want true")
		}
	})

	t.Run("Silent在尚无活动记录时返回false", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), false)
		if r.Silent(time.Now(), time.Second) {
			t.Errorf("Silent before any activity: got true, want false")
		}
	})

	t.Run("超过阈值后Silent返回true", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), false)
		base := time.Now()
		r.TouchActivity(base)
		if !r.Silent(base.Add(2*time.Second), time.Second) {
			t.Errorf("Silent after threshold: got false, want true")
		}
	})

	t.Run("ExpireDurableData在超时前是空操作", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), true)
		r.DurableData[1] = QueueElement{Seq: 1}
		r.DurableTimestamp = time.Now()
		n := r.ExpireDurableData(r.DurableTimestamp.Add(time.Millisecond), time.Second, func(QueueElement) {})
		if n != 0 {
			t.Errorf("ExpireDurableData before timeout: got %d, want 0", n)
		}
	})

	t.Run("ExpireDurableData超时后清空并上报", func(t *testing.T) {
		r := NewReaderRecord(guidN(1), true)
		r.DurableData[1] = QueueElement{Seq: 1}
		r.DurableData[2] = QueueElement{Seq: 2}
		r.DurableTimestamp = time.Now()
		var dropped []rtps.SequenceNumber
		n := r.ExpireDurableData(r.DurableTimestamp.Add(2*time.Second), time.Second, func(e QueueElement) {
			dropped = append(dropped, e.Seq)
		})
		if n != 2 {
			t.Errorf("ExpireDurableData count: got %d, want 2", n)
		}
		if len(r.DurableData) != 0 {
			t.Errorf("DurableData after expiry: got %d entries, want 0", len(r.DurableData))
		}
		if len(dropped) != 2 {
			t.Errorf("dropped count: got %d, want 2", len(dropped))
		}
	})
}
