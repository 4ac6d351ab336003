package idgen

import "testing"

func TestUUIDGeneratesDistinctStrings(t *testing.T) {
	var g UUID
	if g.Supports(KindInt) {
		t.Fatalf("uuid generator must not support non-string kinds")
	}
	a, err := g.Generate(KindString)
	if err != nil {
		t.Fatalf("Generate: %s", err)
	}
	b, err := g.Generate(KindString)
	if err != nil {
		t.Fatalf("Generate: %s", err)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %v twice", a)
	}
}

func TestIntegerGeneratorProducesIncreasingIDs(t *testing.T) {
	g := &Integer{}
	first, _ := g.Generate(KindInt64)
	second, _ := g.Generate(KindInt64)
	if second.(int64) <= first.(int64) {
		t.Fatalf("expected increasing ids, got %v then %v", first, second)
	}
}

func TestIntegerGeneratorSaveLoadStateRoundTrip(t *testing.T) {
	g := &Integer{}
	g.Generate(KindInt64)
	g.Generate(KindInt64)
	g.Generate(KindInt64)

	saved := map[string]string{}
	g.SaveState(func(attr, value string) { saved[attr] = value })

	restored := &Integer{}
	restored.LoadState(func(attr string) (string, bool) {
		v, ok := saved[attr]
		return v, ok
	})

	next, _ := restored.Generate(KindInt64)
	if next.(int64) != 4 {
		t.Fatalf("expected counter to resume at 4, got %v", next)
	}
}

func TestIntegerGeneratorLoadStateWithNoPriorAttributeStaysAtZero(t *testing.T) {
	g := &Integer{}
	g.LoadState(func(attr string) (string, bool) { return "", false })
	first, _ := g.Generate(KindInt64)
	if first.(int64) != 1 {
		t.Fatalf("expected fresh counter to start at 1, got %v", first)
	}
}
