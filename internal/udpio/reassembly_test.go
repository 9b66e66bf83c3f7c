// =============================================================================
// 文件: internal/udpio/reassembly_test.go
// 描述: DATA_FRAG 分片重组测试
// =============================================================================
package udpio

import (
	"testing"

	"github.com/nimbusmesh/rtps-core/internal/rtps"
)

func testWriter() rtps.Guid {
	return rtps.Guid{Prefix: rtps.GuidPrefix{1, 2, 3}, Entity: rtps.EntityId{0, 0, 1, 2}}
}

func TestReassemblerCompletesInOrder(t *testing.T) {
	a := NewReassembler()
	w := testWriter()
	sample := []byte("hello world, this is fragmented")
	fragSize := uint16(8)

	var last *rtps.DataSubmessage
	for i := 0; i*int(fragSize) < len(sample); i++ {
		start := i * int(fragSize)
		end := start + int(fragSize)
		if end > len(sample) {
			end = len(sample)
		}
		frag := &rtps.DataFragSubmessage{
			ReaderId:            rtps.EntityId{0, 0, 1, 4},
			WriterId:            w.Entity,
			WriterSN:            7,
			FragmentStartingNum: rtps.FragmentNumber(i + 1),
			FragmentsInSubmsg:   1,
			FragmentSize:        fragSize,
			SampleSize:          uint32(len(sample)),
			SerializedData:      sample[start:end],
		}
		out, complete := a.Feed(w, frag)
		if complete {
			last = out
		}
	}

	if last == nil {
		t.Fatal("重组应在最后一个分片到达后完成")
	}
	if string(last.SerializedData) != string(sample) {
		t.Errorf("重组结果不正确: got %q, want %q", last.SerializedData, sample)
	}
}

func TestReassemblerCompletesOutOfOrder(t *testing.T) {
	a := NewReassembler()
	w := testWriter()
	sample := []byte("abcdefgh")
	fragSize := uint16(4)

	frag2 := &rtps.DataFragSubmessage{
		WriterId: w.Entity, WriterSN: 1,
		FragmentStartingNum: 2, FragmentsInSubmsg: 1,
		FragmentSize: fragSize, SampleSize: uint32(len(sample)),
		SerializedData: sample[4:8],
	}
	if _, complete := a.Feed(w, frag2); complete {
		t.Fatal("第二个分片先到达时不应判定完整")
	}

	frag1 := &rtps.DataFragSubmessage{
		WriterId: w.Entity, WriterSN: 1,
		FragmentStartingNum: 1, FragmentsInSubmsg: 1,
		FragmentSize: fragSize, SampleSize: uint32(len(sample)),
		SerializedData: sample[0:4],
	}
	out, complete := a.Feed(w, frag1)
	if !complete {
		t.Fatal("两个分片都到达后应判定完整")
	}
	if string(out.SerializedData) != string(sample) {
		t.Errorf("乱序重组结果不正确: got %q, want %q", out.SerializedData, sample)
	}
}

func TestReassemblerHasFragmentsReportsPartialState(t *testing.T) {
	a := NewReassembler()
	w := testWriter()
	frag := &rtps.DataFragSubmessage{
		WriterId: w.Entity, WriterSN: 3,
		FragmentStartingNum: 1, FragmentsInSubmsg: 1,
		FragmentSize: 4, SampleSize: 12,
		SerializedData: []byte("abcd"),
	}
	if _, complete := a.Feed(w, frag); complete {
		t.Fatal("单个分片不足以完成一个 3 分片样本")
	}

	infos, ok := a.HasFragments(w, rtps.SequenceRange{Low: 3, High: 3})
	if !ok || len(infos) != 1 {
		t.Fatalf("应报告序号 3 存在未完成分片状态: ok=%v infos=%v", ok, infos)
	}
	if infos[0].LastFragmentNum != 3 {
		t.Errorf("总分片数应为 3: got %d", infos[0].LastFragmentNum)
	}
	if !infos[0].Have.Contains(1) {
		t.Error("应记录已收到分片 1")
	}
	if infos[0].Have.Contains(2) {
		t.Error("不应记录未收到的分片 2")
	}
}

func TestReassemblerSweepDropsStaleState(t *testing.T) {
	a := NewReassembler()
	w := testWriter()
	frag := &rtps.DataFragSubmessage{
		WriterId: w.Entity, WriterSN: 9,
		FragmentStartingNum: 1, FragmentsInSubmsg: 1,
		FragmentSize: 4, SampleSize: 8,
		SerializedData: []byte("abcd"),
	}
	a.Feed(w, frag)

	a.Sweep(0) // 任何已存在的状态都视为过期

	if _, ok := a.HasFragments(w, rtps.SequenceRange{Low: 9, High: 9}); ok {
		t.Error("Sweep 之后不应再报告已清理的分片状态")
	}
}
