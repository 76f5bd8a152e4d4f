package afpacket

import (
	"fmt"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // approximate TPACKET3_HDRLEN
	maxBlockSize     = 4 * 1024 * 1024
)

// ringLayout is a TPACKET_V3 ring geometry.
type ringLayout struct {
	frameSize int
	blockSize int
	numBlocks int
}

// computeRing derives a ring geometry satisfying PACKET_MMAP alignment:
// frameSize is a multiple of TPACKET_ALIGNMENT, blockSize a multiple of both
// pageSize and frameSize, and blockSize*numBlocks approximates bufferSizeMB.
func computeRing(bufferSizeMB, snapLen, pageSize int) (ringLayout, error) {
	if bufferSizeMB <= 0 {
		return ringLayout{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return ringLayout{}, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringLayout{}, fmt.Errorf("page size must be positive and a multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize := lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// LCM too large: fit as many whole frames as possible into the cap,
		// then round up to a page.
		frames := maxBlockSize / frameSize
		if frames < 1 {
			frames = 1
		}
		blockSize = alignUp(frames*frameSize, pageSize)
	}

	numBlocks := bufferSizeMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	return ringLayout{frameSize: frameSize, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func alignUp(n, align int) int {
	return ((n + align - 1) / align) * align
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
