package grid

import "testing"

func TestDivRoundingUp(t *testing.T) {
	cases := []struct {
		name    string
		overall OverallDims
		block   BlockDims
		want    GridDims
	}{
		{"ExactFit", Overall(128, 1, 1), Block(32, 1, 1), Grid(4, 1, 1)},
		{"Remainder", Overall(100, 1, 1), Block(32, 1, 1), Grid(4, 1, 1)},
		{"SmallerThanBlock", Overall(7, 1, 1), Block(32, 1, 1), Grid(1, 1, 1)},
		{"ThreeAxes", Overall(100, 50, 3), Block(16, 16, 2), Grid(7, 4, 2)},
		{"UnitBlock", Overall(9, 9, 9), Block(1, 1, 1), Grid(9, 9, 9)},
		{"Large", Overall(1<<33, 1, 1), Block(256, 1, 1), Grid(1<<25, 1, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DivRoundingUp(tc.overall, tc.block)
			if got != tc.want {
				t.Errorf("DivRoundingUp(%v, %v) = %v, want %v", tc.overall, tc.block, got, tc.want)
			}
		})
	}
}

func TestCoveringGridProperty(t *testing.T) {
	// For every (overall, block) pair, the derived grid must cover the work
	// (grid*block >= overall per axis) and be minimal ((grid-1)*block < overall).
	overalls := []uint64{1, 7, 31, 32, 33, 100, 1024, 4095}
	blocks := []uint32{1, 2, 32, 128, 1024}
	for _, o := range overalls {
		for _, b := range blocks {
			g := DivRoundingUp(OverallSize(o), BlockSize(b))
			covered := uint64(g.X) * uint64(b)
			if covered < o {
				t.Errorf("grid %d blocks of %d threads covers only %d of %d", g.X, b, covered, o)
			}
			if g.X > 1 && uint64(g.X-1)*uint64(b) >= o {
				t.Errorf("grid %d blocks of %d threads is not minimal for %d items", g.X, b, o)
			}
		}
	}
}

func TestTimesAndConsistent(t *testing.T) {
	block := Block(32, 8, 1)
	gd := Grid(10, 4, 2)
	overall := gd.Times(block)
	if overall != Overall(320, 32, 2) {
		t.Fatalf("Times = %v", overall)
	}
	if !Consistent(block, gd, overall) {
		t.Error("exact product should be consistent")
	}
	if Consistent(block, gd, Overall(320, 32, 3)) {
		t.Error("mismatched Z axis should not be consistent")
	}
}

func TestVolume(t *testing.T) {
	if v := Block(32, 8, 2).Volume(); v != 512 {
		t.Errorf("block volume = %d, want 512", v)
	}
	if v := GridSize(80).Volume(); v != 80 {
		t.Errorf("grid volume = %d, want 80", v)
	}
}

func TestChecks(t *testing.T) {
	if err := CheckBlockDims(Block(32, 1, 0)); err == nil {
		t.Error("zero Z axis should be rejected")
	}
	if err := CheckBlockDims(Block(1, 1, 1)); err != nil {
		t.Errorf("unit block rejected: %v", err)
	}
	if err := CheckGridDims(Grid(0, 1, 1)); err == nil {
		t.Error("zero X axis should be rejected")
	}
	if err := CheckOverallDims(Overall(1, 0, 1)); err == nil {
		t.Error("zero Y axis should be rejected")
	}
}
