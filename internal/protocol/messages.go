package protocol

import "time"

// SpeakRequest asks the runtime to generate and speak a reply to the
// given input text.
type SpeakRequest struct {
	UtteranceID string    `json:"utterance_id,omitempty"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// SpeakStatus reports progress of one spoken response on the bus.
// Chunks is the chunk count once known (0 before chunking); ChunkIndex
// is -1 except for per-chunk stages.
type SpeakStatus struct {
	UtteranceID string    `json:"utterance_id"`
	Stage       string    `json:"stage"`
	Chunks      int       `json:"chunks"`
	ChunkIndex  int       `json:"chunk_index"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CollabStatus reports availability of the external collaborators the
// runtime shells out to.
type CollabStatus struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeakRequest = "speak.request"
	SubjectSpeakStatus  = "speak.status"
	SubjectCollabStatus = "ctrl.collab.status"
)

// Stages of a spoken response, in the order they can occur.
const (
	StageGenerating   = "generating"
	StageSpeaking     = "speaking"
	StageFallback     = "fallback"
	StageSkippedChunk = "skipped_chunk"
	StageNoChunks     = "no_chunks"
	StageDone         = "done"
)
