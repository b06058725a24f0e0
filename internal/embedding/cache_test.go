package embedding

import (
	"context"
	"testing"
)

// countingEmbedder records which texts the inner embedder actually sees.
type countingEmbedder struct {
	*MockEmbedder
	calls   int
	batches [][]string
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.batches = append(c.batches, append([]string(nil), texts...))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	// a was just touched, so adding c evicts b.
	c.Set("c", []float32{3})
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestCachedEmbedder_PartialMissPreservesOrder(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4)}
	e := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner call, got %d", inner.calls)
	}

	// "two" is cached; only "three" should reach the inner embedder.
	second, err := e.EmbedBatch(ctx, []string{"three", "two", "one"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 inner calls, got %d", inner.calls)
	}
	if len(inner.batches[1]) != 1 || inner.batches[1][0] != "three" {
		t.Errorf("inner saw %v, want only three", inner.batches[1])
	}
	if !equalVec(second[1], first[1]) {
		t.Error("cached vector for two differs")
	}
	if !equalVec(second[2], first[0]) {
		t.Error("cached vector for one differs")
	}
}

func TestCachedEmbedder_QueryUsesCache(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4)}
	e := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "repeated question")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EmbedQuery(ctx, "repeated question")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
	if !equalVec(a, b) {
		t.Error("cached query vector differs")
	}
}

func TestMockEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx := context.Background()
	a, err := e.EmbedQuery(ctx, "stable text")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EmbedQuery(ctx, "stable text")
	if err != nil {
		t.Fatal(err)
	}
	if !equalVec(a, b) {
		t.Error("mock embedder not deterministic")
	}
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("expected unit vector, norm^2 = %f", norm)
	}
	c, _ := e.EmbedQuery(ctx, "different text")
	if equalVec(a, c) {
		t.Error("different texts should embed differently")
	}
}

func equalVec(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
