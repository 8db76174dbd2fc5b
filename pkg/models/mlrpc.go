package models

import "github.com/ocentra/tabagentd/pkg/ids"

// PipelineType names the inference pipeline a load_model call should
// prepare (spec §4.9 load_model).
type PipelineType string

const (
	PipelineTextGeneration PipelineType = "text_generation"
	PipelineChat           PipelineType = "chat"
	PipelineEmbeddings     PipelineType = "embeddings"
	PipelineVision         PipelineType = "vision"
)

// LoadResult is load_model's response (§4.9).
type LoadResult struct {
	RAMBytes  int64 `json:"ram_bytes"`
	VRAMBytes int64 `json:"vram_bytes"`
}

// GenerateRequest is generate_text's request.
type GenerateRequest struct {
	ModelID     ids.ModelId `json:"model_id"`
	Prompt      string      `json:"prompt"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float32     `json:"temperature"`
	Stop        []string    `json:"stop,omitempty"`
}

// TextDelta is one streamed fragment of generate_text's response.
type TextDelta struct {
	Text     string `json:"text"`
	Done     bool   `json:"done"`
	StopKind string `json:"stop_kind,omitempty"`
}

// ChatMessage is one message in a chat_completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatDelta is one streamed fragment of chat_completion's response.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// VideoFrameFormat enumerates the pixel/container formats accepted by
// the vision streaming operations (§4.9).
type VideoFrameFormat string

const (
	FrameRGB  VideoFrameFormat = "rgb"
	FrameBGR  VideoFrameFormat = "bgr"
	FrameH264 VideoFrameFormat = "h264"
	FrameVP8  VideoFrameFormat = "vp8"
	FrameJPEG VideoFrameFormat = "jpeg"
)

// VideoFrame is one frame sent up a vision streaming call.
type VideoFrame struct {
	Bytes       []byte            `json:"bytes"`
	Format      VideoFrameFormat  `json:"format"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	TimestampMs int64             `json:"timestamp_ms"`
	FrameNumber int64             `json:"frame_number"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// VisionKind names which vision model a streaming call targets.
type VisionKind string

const (
	VisionFace         VisionKind = "face"
	VisionHand         VisionKind = "hand"
	VisionPose         VisionKind = "pose"
	VisionMesh         VisionKind = "mesh"
	VisionIris         VisionKind = "iris"
	VisionSegmentation VisionKind = "segmentation"
)

// Landmark is one 3D point of a detected landmark set.
type Landmark struct {
	X, Y, Z    float32 `json:"x"`
	Confidence float32 `json:"confidence"`
}

// VisionResult is one streamed detection result for a VideoFrame,
// returned by every vision streaming operation (§4.9).
type VisionResult struct {
	FrameNumber int64      `json:"frame_number"`
	Kind        VisionKind `json:"kind"`
	Landmarks   []Landmark `json:"landmarks,omitempty"`
	MaskPNG     []byte     `json:"mask_png,omitempty"` // segmentation only
}
