package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewContext(t *testing.T) {
	// С nil vars
	ctx := NewContext(nil)
	if ctx.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", ctx.Depth())
	}

	// Исходный map не должен изменяться через Set
	vars := map[string]any{"key": "value"}
	ctx = NewContext(vars)
	ctx.Set("other", 1)
	if _, ok := vars["other"]; ok {
		t.Error("NewContext should copy initial vars")
	}
	if v, _ := ctx.Get("key"); v != "value" {
		t.Errorf("expected value, got %v", v)
	}
}

func TestContext_SetResolve(t *testing.T) {
	ctx := NewContext(nil)

	ctx.Set("x", 42)
	v, err := ctx.Resolve("$x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}

	ctx.Set("x", map[string]any{"y": 5})
	v, err = ctx.Resolve("$x.y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 {
		t.Errorf("expected 5, got %v", v)
	}

	_, err = ctx.Resolve("$unbound")
	if !errors.Is(err, ErrReference) {
		t.Errorf("expected ErrReference, got %v", err)
	}
}

func TestContext_ResolveLiteral(t *testing.T) {
	ctx := NewContext(nil)

	v, err := ctx.Resolve("plain text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "plain text" {
		t.Errorf("literal should be returned unchanged, got %v", v)
	}
}

func TestContext_ResolvePaths(t *testing.T) {
	ctx := NewContext(map[string]any{
		"user": map[string]any{
			"name": "alice",
			"tags": []any{"a", "b"},
		},
		"count":  3,
		"labels": map[string]string{"env": "prod"},
		"ids":    []int{10, 20},
	})

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "nested key", path: "$user.name", want: "alice"},
		{name: "slice index", path: "$user.tags.1", want: "b"},
		{name: "typed map", path: "$labels.env", want: "prod"},
		{name: "typed slice", path: "$ids.0", want: 10},
		// Отсутствующий ключ map — nil на всём оставшемся пути
		{name: "missing leaf key", path: "$user.email", want: nil},
		{name: "missing intermediate key", path: "$user.address.city", want: nil},
		// Неверная форма — ошибка
		{name: "index out of range", path: "$user.tags.5", wantErr: true},
		{name: "non-numeric index", path: "$user.tags.first", wantErr: true},
		{name: "index into scalar", path: "$count.value", wantErr: true},
		{name: "empty reference", path: "$", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ctx.Resolve(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrReference) {
					t.Errorf("expected ErrReference, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestContext_Scopes(t *testing.T) {
	ctx := NewContext(map[string]any{"a": 1, "b": 2})

	ctx.PushScope(map[string]any{"a": 10})
	if ctx.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", ctx.Depth())
	}

	// Внутренний scope затеняет внешний
	if v, _ := ctx.Resolve("$a"); v != 10 {
		t.Errorf("expected shadowed a=10, got %v", v)
	}
	// Но не отрезает его
	if v, _ := ctx.Resolve("$b"); v != 2 {
		t.Errorf("expected outer b=2, got %v", v)
	}

	// Set пишет только во внутренний scope
	ctx.Set("b", 20)
	ctx.Set("c", 30)

	if err := ctx.PopScope(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, _ := ctx.Resolve("$a"); v != 1 {
		t.Errorf("expected a=1 after pop, got %v", v)
	}
	if v, _ := ctx.Resolve("$b"); v != 2 {
		t.Errorf("Set in child scope leaked into parent: b=%v", v)
	}
	if _, err := ctx.Resolve("$c"); !errors.Is(err, ErrReference) {
		t.Errorf("c should be gone after pop, got %v", err)
	}

	// Корневой scope не снимается
	if err := ctx.PopScope(); !errors.Is(err, ErrScopeUnderflow) {
		t.Errorf("expected ErrScopeUnderflow, got %v", err)
	}
}

func TestContext_WithScope(t *testing.T) {
	ctx := NewContext(nil)
	boom := errors.New("boom")

	err := ctx.WithScope(map[string]any{"item": 1}, func() error {
		if ctx.Depth() != 2 {
			t.Errorf("expected depth 2 inside scope, got %d", ctx.Depth())
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if ctx.Depth() != 1 {
		t.Errorf("scope must be popped on error, depth=%d", ctx.Depth())
	}

	// Panic тоже снимает scope
	func() {
		defer func() { _ = recover() }()
		_ = ctx.WithScope(nil, func() error {
			panic("unexpected")
		})
	}()
	if ctx.Depth() != 1 {
		t.Errorf("scope must be popped on panic, depth=%d", ctx.Depth())
	}
}

func TestContext_ResolveValue(t *testing.T) {
	ctx := NewContext(map[string]any{
		"name":  "alice",
		"items": []any{1, 2},
	})

	input := map[string]any{
		"greeting": "hello",
		"who":      "$name",
		"nested": map[string]any{
			"list": []any{"$items.0", "literal", 7, true},
		},
		"none": nil,
	}

	got, err := ctx.ResolveValue(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"greeting": "hello",
		"who":      "alice",
		"nested": map[string]any{
			"list": []any{1, "literal", 7, true},
		},
		"none": nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Ошибка во вложенном элементе пробрасывается
	if _, err := ctx.ResolveValue([]any{"$missing"}); !errors.Is(err, ErrReference) {
		t.Errorf("expected ErrReference, got %v", err)
	}
}

func TestContext_Snapshot(t *testing.T) {
	ctx := NewContext(map[string]any{"a": 1})
	ctx.PushScope(map[string]any{"b": 2})

	snap := ctx.Snapshot()
	snap.Set("b", 20)
	snap.Set("c", 30)
	snap.PushScope(nil)

	if snap.Depth() != 3 || ctx.Depth() != 2 {
		t.Errorf("depths must be independent: snap=%d ctx=%d", snap.Depth(), ctx.Depth())
	}
	if v, _ := ctx.Get("b"); v != 2 {
		t.Errorf("snapshot Set leaked into original: b=%v", v)
	}
	if _, ok := ctx.Get("c"); ok {
		t.Error("snapshot Set leaked new key into original")
	}
	if v, _ := snap.Get("a"); v != 1 {
		t.Errorf("snapshot should see outer vars, got %v", v)
	}
}

func TestContext_Variables(t *testing.T) {
	ctx := NewContext(map[string]any{"a": 1, "b": 2})
	ctx.PushScope(map[string]any{"b": 3})

	vars := ctx.Variables()
	if vars["a"] != 1 || vars["b"] != 3 {
		t.Errorf("unexpected variables: %v", vars)
	}
}
