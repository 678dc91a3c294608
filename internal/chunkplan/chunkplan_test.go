package chunkplan

import "testing"

func TestTargetChunkCountBands(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{10 * 1024 * 1024, 1},
		{100 * 1024 * 1024, 4},
		{1000 * 1024 * 1024, 8},
		{3000 * 1024 * 1024, 12},
	}
	for _, c := range cases {
		if got := TargetChunkCount(c.size); got != c.want {
			t.Errorf("TargetChunkCount(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestPlanPartitionsExactly(t *testing.T) {
	const total = int64(200_000_000)
	ranges := Plan(total, TargetChunkCount(total))

	if ranges[0].Start != 0 {
		t.Fatalf("expected first range to start at 0, got %d", ranges[0].Start)
	}
	if ranges[len(ranges)-1].End != total-1 {
		t.Fatalf("expected last range to end at %d, got %d", total-1, ranges[len(ranges)-1].End)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start != ranges[i-1].End+1 {
			t.Fatalf("ranges must be contiguous: range %d starts at %d, previous ended at %d",
				i, ranges[i].Start, ranges[i-1].End)
		}
	}
}

func TestPlanSingleChunkForSmallFile(t *testing.T) {
	ranges := Plan(1, 1)
	if len(ranges) != 1 || ranges[0].Start != 0 || ranges[0].End != 0 {
		t.Fatalf("expected single-byte file to plan one range [0,0], got %v", ranges)
	}
}

func TestShouldUseSimple(t *testing.T) {
	if !ShouldUseSimple(0, true, false) {
		t.Fatal("unknown size should force SIMPLE")
	}
	if !ShouldUseSimple(100*1024*1024, false, false) {
		t.Fatal("no Accept-Ranges should force SIMPLE even above threshold")
	}
	if ShouldUseSimple(100*1024*1024, true, false) {
		t.Fatal("large ranged-capable file should not force SIMPLE")
	}
	if !ShouldUseSimple(100*1024*1024, true, true) {
		t.Fatal("disableChunked should force SIMPLE")
	}
}
