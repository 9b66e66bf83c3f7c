package reliability

import (
	"net"
	"testing"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestBundler(t *testing.T) {
	t.Run("单个元消息生成一个数据报", func(t *testing.T) {
		b := NewBundler(65536, rtps.NewLocatorTable(), rtps.GuidPrefix{})
		metas := []MetaSubmessage{{
			From: guidN(1),
			Dst:  guidN(2),
			Submessage: &rtps.HeartbeatSubmessage{
				WriterId: guidN(1).Entity, FirstSN: 1, LastSN: 1, Count: 1, Flags: rtps.FlagEndian,
			},
		}}
		dgs := b.Bundle(metas, func(dst rtps.Guid, extra []rtps.Guid) []*net.UDPAddr {
			return []*net.UDPAddr{addr(7400)}
		})
		if len(dgs) != 1 {
			t.Fatalf("datagram count: got %d, want 1", len(dgs))
		}
		if len(dgs[0].Payload) <= rtpsHeaderLen {
			t.Errorf("payload length: got %d, want > header length", len(dgs[0].Payload))
		}
	})

	t.Run("超过预算的元消息被拆分到多个数据报", func(t *testing.T) {
		b := NewBundler(rtpsHeaderLen+submessageHeaderLen+infoDstLen+40, rtps.NewLocatorTable(), rtps.GuidPrefix{})
		var metas []MetaSubmessage
		for i := 0; i < 5; i++ {
			metas = append(metas, MetaSubmessage{
				From: guidN(1),
				Dst:  guidN(2),
				Submessage: &rtps.DataSubmessage{
					WriterId: guidN(1).Entity, ReaderId: guidN(2).Entity,
					WriterSN: rtps.SequenceNumber(i + 1), Flags: rtps.FlagEndian | rtps.FlagData,
					SerializedData: make([]byte, 16),
				},
			})
		}
		dgs := b.Bundle(metas, func(dst rtps.Guid, extra []rtps.Guid) []*net.UDPAddr {
			return []*net.UDPAddr{addr(7400)}
		})
		if len(dgs) < 2 {
			t.Errorf("datagram count for oversized bundle: got %d, want >= 2", len(dgs))
		}
	})

	t.Run("解析不出地址的目标被丢弃", func(t *testing.T) {
		b := NewBundler(65536, rtps.NewLocatorTable(), rtps.GuidPrefix{})
		metas := []MetaSubmessage{{
			From:       guidN(1),
			Dst:        guidN(2),
			Submessage: &rtps.HeartbeatSubmessage{WriterId: guidN(1).Entity},
		}}
		dgs := b.Bundle(metas, func(rtps.Guid, []rtps.Guid) []*net.UDPAddr { return nil })
		if len(dgs) != 0 {
			t.Errorf("datagram count with no resolvable address: got %d, want 0", len(dgs))
		}
	})
}

func BenchmarkBundlerBundle(b *testing.B) {
	bundler := NewBundler(65536, rtps.NewLocatorTable(), rtps.GuidPrefix{})
	var metas []MetaSubmessage
	for i := 0; i < 64; i++ {
		metas = append(metas, MetaSubmessage{
			From: guidN(1),
			Dst:  guidN(byte(i % 4)),
			Submessage: &rtps.DataSubmessage{
				WriterId: guidN(1).Entity, WriterSN: rtps.SequenceNumber(i + 1),
				Flags: rtps.FlagEndian | rtps.FlagData, SerializedData: make([]byte, 64),
			},
		})
	}
	resolve := func(dst rtps.Guid, extra []rtps.Guid) []*net.UDPAddr { return []*net.UDPAddr{addr(7400)} }
	for i := 0; i < b.N; i++ {
		bundler.Bundle(metas, resolve)
	}
}
