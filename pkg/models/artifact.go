package models

import "github.com/ocentra/tabagentd/pkg/ids"

// ModelArtifact describes one file belonging to a model repo, stored
// by the Model Cache as an ordered sequence of chunks (spec §3, §4.3).
type ModelArtifact struct {
	ModelID            ids.ModelId `json:"model_id"`
	FilePathWithinRepo string      `json:"file_path_within_repo"`
	ContentHash        string      `json:"content_hash"` // hex sha256
	TotalBytes         int64       `json:"total_bytes"`
	ChunkSize          int64       `json:"chunk_size"`
}

// MaxChunkBytes is the specification ceiling on chunk size (§4.3, §6):
// "chunk ≤ 5 MiB".
const MaxChunkBytes = 5 * 1024 * 1024

// ChunkFrame is one frame of a streamed file, used both by the Model
// Cache's stream_file and by the ML RPC's get_model_file inverse
// stream (§4.3, §6 wire format).
type ChunkFrame struct {
	Offset int64  `json:"offset"`
	Bytes  []byte `json:"bytes"`
	IsLast bool   `json:"is_last"`
}

// DownloadProgress is a monotonically non-decreasing progress value in
// [0, 100] reported to a download's progress sink (§4.3).
type DownloadProgress int
