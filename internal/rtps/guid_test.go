// =============================================================================
// 文件: internal/rtps/guid_test.go
// 描述: Guid/EntityId 编解码与排序测试
// =============================================================================
package rtps

import "testing"

func TestEntityIdKindChecks(t *testing.T) {
	tests := []struct {
		name       string
		id         EntityId
		wantWriter bool
		wantReader bool
		wantBuiltin bool
	}{
		{"用户写者(有key)", EntityId{0, 0, 1, entityKindUserWriterWithKey}, true, false, false},
		{"用户写者(无key)", EntityId{0, 0, 1, entityKindUserWriterNoKey}, true, false, false},
		{"用户读者(无key)", EntityId{0, 0, 1, entityKindUserReaderNoKey}, false, true, false},
		{"用户读者(有key)", EntityId{0, 0, 1, entityKindUserReaderWithKey}, false, true, false},
		{"内置写者", EntityId{0, 0, 1, entityKindBuiltinWriterKey}, true, false, true},
		{"内置读者", EntityId{0, 0, 1, entityKindBuiltinReaderNoKey}, false, true, true},
		{"未知实体", EntityIdUnknown, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsWriter(); got != tt.wantWriter {
				t.Errorf("IsWriter() = %v, want %v", got, tt.wantWriter)
			}
			if got := tt.id.IsReader(); got != tt.wantReader {
				t.Errorf("IsReader() = %v, want %v", got, tt.wantReader)
			}
			if got := tt.id.IsBuiltin(); got != tt.wantBuiltin {
				t.Errorf("IsBuiltin() = %v, want %v", got, tt.wantBuiltin)
			}
		})
	}
}

func TestGuidIsUnknown(t *testing.T) {
	if !GuidUnknown.IsUnknown() {
		t.Error("GuidUnknown.IsUnknown() 应为 true")
	}

	g := Guid{Entity: EntityId{0, 0, 1, entityKindUserWriterWithKey}}
	if g.IsUnknown() {
		t.Error("非零 Guid 不应判定为 unknown")
	}
}

func TestGuidWithEntity(t *testing.T) {
	base := Guid{Prefix: GuidPrefix{1, 2, 3}, Entity: EntityId{0, 0, 1, entityKindUserWriterWithKey}}
	other := base.WithEntity(EntityId{0, 0, 2, entityKindUserReaderNoKey})

	if other.Prefix != base.Prefix {
		t.Error("WithEntity 不应改变 Prefix")
	}
	if other.Entity == base.Entity {
		t.Error("WithEntity 应替换 Entity")
	}
}

func TestGuidLessTotalOrder(t *testing.T) {
	a := Guid{Prefix: GuidPrefix{1}, Entity: EntityId{0, 0, 1, 0}}
	b := Guid{Prefix: GuidPrefix{2}, Entity: EntityId{0, 0, 1, 0}}
	c := Guid{Prefix: GuidPrefix{1}, Entity: EntityId{0, 0, 2, 0}}

	if !a.Less(b) {
		t.Error("a 的 Prefix 较小，应排在 b 之前")
	}
	if b.Less(a) {
		t.Error("b 不应排在 a 之前")
	}
	if !a.Less(c) {
		t.Error("Prefix 相同时应按 Entity 排序")
	}
	if a.Less(a) {
		t.Error("Less 应是严格序，a.Less(a) 必为 false")
	}
}
