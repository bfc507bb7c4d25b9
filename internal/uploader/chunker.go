package uploader

// Plan computes chunk boundaries purely from the file size and a fixed
// chunk size. Chunk i spans bytes [i*C, min((i+1)*C, fileSize)); the
// ranges partition [0, fileSize) exactly.
type Plan struct {
	FileSize  int64
	ChunkSize int64
}

// NewPlan creates a chunking plan
func NewPlan(fileSize, chunkSize int64) Plan {
	return Plan{FileSize: fileSize, ChunkSize: chunkSize}
}

// TotalChunks returns ceil(fileSize / chunkSize)
func (p Plan) TotalChunks() int {
	if p.FileSize <= 0 || p.ChunkSize <= 0 {
		return 0
	}
	return int((p.FileSize + p.ChunkSize - 1) / p.ChunkSize)
}

// Range returns the byte range [start, end) of chunk i
func (p Plan) Range(i int) (start, end int64) {
	start = int64(i) * p.ChunkSize
	end = start + p.ChunkSize
	if end > p.FileSize {
		end = p.FileSize
	}
	return start, end
}

// Len returns the length of chunk i
func (p Plan) Len(i int) int64 {
	start, end := p.Range(i)
	if end < start {
		return 0
	}
	return end - start
}
