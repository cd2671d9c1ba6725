package bot

import "campusbot/internal/broadcast"

func formatReport(rep *broadcast.Report) string {
	var head string
	switch rep.Outcome() {
	case broadcast.FullySent:
		head = "Broadcast delivered."
	case broadcast.PartiallySent:
		head = "Broadcast partially delivered."
	default:
		head = "Broadcast could not be delivered."
	}
	if sum := rep.Summary(); sum != "" {
		return head + "\n\n" + sum
	}
	return head
}
