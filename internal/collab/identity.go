package collab

// Display identity is derived deterministically from the participant id so
// every client renders the same name and color for a peer without any shared
// identity service. Ids are per-connection, so the identity is stable only for
// the lifetime of that connection.

var cursorPalette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEAA7",
	"#DDA0DD",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E9",
}

func DisplayName(participantID string) string {
	suffix := participantID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "User " + suffix
}

func DisplayColor(participantID string) string {
	var h int32
	for _, r := range participantID {
		h = (h << 5) - h + int32(r)
	}
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return cursorPalette[idx%int64(len(cursorPalette))]
}
