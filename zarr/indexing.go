package zarr

import "fmt"

// chunkDimProjection maps the overlap of one chunk with a selection on a
// single axis
type chunkDimProjection struct {
	// Index of chunk.
	DimChunkIX int
	// Offset of the first selected item within the chunk.
	DimChunkSel int
	// Offset of the first selected item in the target (output) array.
	DimOutSel int
	// Number of items selected from this chunk.
	Count int
}

// sliceDimIndexer projects the half open selection [start, stop) on an axis of
// length dimLen, split into chunks of chunkLen, onto each chunk it touches
func sliceDimIndexer(start, stop, dimLen, chunkLen int) ([]chunkDimProjection, error) {
	if start < 0 || start > stop || stop > dimLen {
		return nil, fmt.Errorf("selection [%d:%d] out of range for extent %d", start, stop, dimLen)
	}
	if start == stop {
		return nil, nil
	}
	var projs []chunkDimProjection
	for ix := start / chunkLen; ix*chunkLen < stop; ix++ {
		chunkStart := ix * chunkLen
		from := max(start, chunkStart)
		to := min(stop, chunkStart+chunkLen)
		projs = append(projs, chunkDimProjection{
			DimChunkIX:  ix,
			DimChunkSel: from - chunkStart,
			DimOutSel:   from - start,
			Count:       to - from,
		})
	}
	return projs, nil
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Selection of items from chunk array.
	ChunkSelection []int
	// Selection of items in target (output) array.
	OutSelection []int
	// Items per axis
	Count []int
}

// projectRegion lists every chunk intersecting [start, stop), in C order
func projectRegion(start, stop, shape, chunks []int) ([]chunkProjection, error) {
	if len(start) != len(shape) || len(stop) != len(shape) {
		return nil, fmt.Errorf("selection rank %d/%d does not match array rank %d", len(start), len(stop), len(shape))
	}

	dims := make([][]chunkDimProjection, len(shape))
	for i := range shape {
		p, err := sliceDimIndexer(start[i], stop[i], shape[i], chunks[i])
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", i, err)
		}
		if len(p) == 0 {
			return nil, nil
		}
		dims[i] = p
	}

	var out []chunkProjection
	idx := make([]int, len(dims))
	for {
		cp := chunkProjection{
			ChunkCoords:    make([]int, len(dims)),
			ChunkSelection: make([]int, len(dims)),
			OutSelection:   make([]int, len(dims)),
			Count:          make([]int, len(dims)),
		}
		for d, i := range idx {
			p := dims[d][i]
			cp.ChunkCoords[d] = p.DimChunkIX
			cp.ChunkSelection[d] = p.DimChunkSel
			cp.OutSelection[d] = p.DimOutSel
			cp.Count[d] = p.Count
		}
		out = append(out, cp)

		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(dims[d]) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return out, nil
		}
	}
}
