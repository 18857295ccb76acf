package source

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxRingBlockSize = 4 << 20
)

// ringGeometry sizes an AF_PACKET TPACKET_V3 ring.
//
// The kernel requires frameSize to be TPACKET_ALIGNMENT aligned and
// blockSize to be a multiple of both the page size and frameSize.
type ringGeometry struct {
	frameSize int
	blockSize int
	numBlocks int
}

func computeRing(bufferMB, snapLen, pageSize int) (ringGeometry, error) {
	if bufferMB <= 0 {
		return ringGeometry{}, fmt.Errorf("ring buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ringGeometry{}, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringGeometry{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	g := ringGeometry{}
	g.frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	limit := min(maxRingBlockSize, bufferMB<<20)
	if lcm(pageSize, g.frameSize) > limit {
		// whole-page frames keep the block under the limit
		g.frameSize = alignUp(g.frameSize, pageSize)
	}
	l := lcm(pageSize, g.frameSize)
	g.blockSize = l * max(limit/l, 1)

	g.numBlocks = max((bufferMB<<20)/g.blockSize, 1)
	return g, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
