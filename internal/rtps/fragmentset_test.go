// =============================================================================
// 文件: internal/rtps/fragmentset_test.go
// 描述: FragmentSet 完整性判断与缺口计算测试
// =============================================================================
package rtps

import "testing"

func TestFragmentSetCompleteness(t *testing.T) {
	s := NewFragmentSet()
	for i := FragmentNumber(1); i <= 5; i++ {
		s.Insert(i)
	}

	if !s.Complete(5) {
		t.Error("1..5 全部插入后应判定为完整")
	}
	if s.Complete(6) {
		t.Error("缺少第 6 个分片时不应判定为完整")
	}
}

func TestFragmentSetMissingFragmentRanges(t *testing.T) {
	s := NewFragmentSet()
	s.InsertRange(FragmentRange{Low: 1, High: 2})
	s.InsertRange(FragmentRange{Low: 5, High: 5})

	missing := s.MissingFragmentRanges(1, 6)
	want := []FragmentRange{{Low: 3, High: 4}, {Low: 6, High: 6}}
	if len(missing) != len(want) {
		t.Fatalf("缺口不正确: got %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("缺口[%d]不正确: got %v, want %v", i, missing[i], want[i])
		}
	}
}

func TestFragmentSetBitmapRoundTrip(t *testing.T) {
	s := NewFragmentSet()
	for _, n := range []FragmentNumber{1, 2, 4, 8, 16} {
		s.Insert(n)
	}

	bits, numBits := s.ToBitmap(1, MaxBitmapBits)

	roundTrip := NewFragmentSet()
	roundTrip.InsertFromBitmap(1, numBits, bits)

	want := s.Ranges()
	got := roundTrip.Ranges()
	if len(want) != len(got) {
		t.Fatalf("往返编解码后区间数不一致: got %v, want %v", got, want)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("区间[%d]往返不一致: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFragmentSetEmptyIsIncomplete(t *testing.T) {
	s := NewFragmentSet()
	if s.Complete(1) {
		t.Error("空集合对任意非零长度都不应判定为完整")
	}
}
