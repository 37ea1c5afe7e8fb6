package macho

import "testing"

func newTestImageForAlloc(t *testing.T) *Image {
	t.Helper()
	return &Image{
		pageSize:   0x1000,
		symtabIdx:  noCmdIdx,
		dyldInfoIdx: noCmdIdx,
	}
}

func TestSatAdd(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{1, 2, 3},
		{0, 0, 0},
		{^uint64(0), 1, ^uint64(0)},
		{^uint64(0) - 5, 10, ^uint64(0)},
	}
	for _, c := range cases {
		if got := satAdd(c.a, c.b); got != c.want {
			t.Errorf("satAdd(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSatMul(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{3, 4, 12},
		{0, 100, 0},
		{^uint64(0), 2, ^uint64(0)},
	}
	for _, c := range cases {
		if got := satMul(c.a, c.b); got != c.want {
			t.Errorf("satMul(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestOccupiedRegionsHeaderAlwaysPresent(t *testing.T) {
	img := newTestImageForAlloc(t)
	regions := img.occupiedRegions()
	if len(regions) != 1 || regions[0].offset != 0 || regions[0].size != machHeader64Size {
		t.Fatalf("got %+v, want just the header region", regions)
	}
}

func TestDetectAllocCollisionNoOccupants(t *testing.T) {
	img := newTestImageForAlloc(t)
	img.header = struct {
		cpuType, cpuSubtype uint32
		fileType            uint32
		flags               uint32
	}{}
	// With only the header occupying [0, 32), a candidate starting well
	// past it should not collide.
	if _, collided := img.detectAllocCollision(0x1000, 0x100); collided {
		t.Error("expected no collision past the header")
	}
}

func TestDetectAllocCollisionOverlapsHeader(t *testing.T) {
	img := newTestImageForAlloc(t)
	if _, collided := img.detectAllocCollision(0, 0x10); !collided {
		t.Error("expected collision with the header region")
	}
}

func TestFindFreeSpaceSkipsHeader(t *testing.T) {
	img := newTestImageForAlloc(t)
	got := img.findFreeSpace(0x1000, 0x1000)
	if got != 0x1000 {
		t.Errorf("findFreeSpace = %#x, want %#x", got, 0x1000)
	}
}

func TestAllocatedSizeZeroStart(t *testing.T) {
	img := newTestImageForAlloc(t)
	if got := img.allocatedSize(0); got != 0 {
		t.Errorf("allocatedSize(0) = %d, want 0", got)
	}
}

func TestAllocatedSizeNoHigherRegion(t *testing.T) {
	img := newTestImageForAlloc(t)
	if got := img.allocatedSize(0x1000); got != 0 {
		t.Errorf("allocatedSize(0x1000) = %d, want 0 (nothing occupies space after it)", got)
	}
}
