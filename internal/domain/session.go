package domain

// SessionState is the transient state of one mission play-through. Owned
// exclusively by the session controller; reset whenever a level starts or
// the player returns to level select.
type SessionState struct {
	Level        *LevelDefinition `json:"level,omitempty"`
	Score        int              `json:"score"`
	MessageCount int              `json:"messageCount"`
	History      []ChatTurn       `json:"history"`
}

// RecordExchange appends a completed turn to the history: the player's raw
// text followed by the model's serialized structured reply.
func (s *SessionState) RecordExchange(userText string, reply ModelReply) {
	s.History = append(s.History,
		ChatTurn{Role: RoleUser, Content: userText},
		ChatTurn{Role: RoleModel, Content: reply.Serialize()},
	)
	s.Score += reply.ScoreChange
}

// TurnsRemaining returns how many player messages the mission still accepts.
func (s *SessionState) TurnsRemaining() int {
	if s.Level == nil {
		return 0
	}
	n := s.Level.MissionLength - s.MessageCount
	if n < 0 {
		return 0
	}
	return n
}

// MissionOver reports whether the fixed turn budget has been spent. The
// count advances on submission, not on relay success, so a mission can end
// on a turn whose relay call failed.
func (s *SessionState) MissionOver() bool {
	return s.Level != nil && s.MessageCount >= s.Level.MissionLength
}
