package domain

import "encoding/json"

// Chat roles as the model API expects them.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatTurn is one entry in the model-facing conversation history.
// A model turn's Content is the full structured reply serialized as JSON,
// so the model sees its own prior scoring decisions verbatim.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelReply is the structured object the model is instructed to return
// for every turn.
type ModelReply struct {
	Response    string `json:"response"`
	ScoreChange int    `json:"score_change"`
}

// Serialize renders the reply the way it is stored in history.
func (r ModelReply) Serialize() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// Transcript entry kinds, view-facing. Narrator and system entries never
// join the model-facing history.
const (
	EntryNarrator  = "narrator"
	EntryPlayer    = "player"
	EntryCharacter = "character"
	EntrySystem    = "system"
)

// TranscriptEntry is one line of the on-screen conversation log.
type TranscriptEntry struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}
