package broadcast

import (
	"context"

	"campusbot/internal/transport"
	"campusbot/pkg/logx"
)

// unknownFaculty is the placeholder shown when a faculty id does not
// resolve to a display name. The report is diagnostic, not transactional.
const unknownFaculty = "unknown"

// allLabel marks the wildcard pseudo-pair in reports.
const allLabel = "ALL"

// dispatchPair sends to every group of one (course, faculty) pair,
// strictly sequentially in directory order.
//
// A directory failure or an empty recipient list collapses the whole pair
// into a single false outcome; sibling pairs are unaffected.
func (s *Service) dispatchPair(ctx context.Context, p Pair, messageID int64, text string, attachments []string) PairResult {
	res := PairResult{Course: p.Course.String(), Faculty: s.facultyLabel(ctx, p.FacultyID)}

	ids, err := s.dir.GroupIDsByCourseFaculty(ctx, int(p.Course), p.FacultyID)
	if err != nil {
		s.log.Error("group lookup failed",
			logx.String("course", res.Course),
			logx.Int64("faculty", p.FacultyID),
			logx.Err(err))
		res.Delivered = []bool{false}
		return res
	}
	if len(ids) == 0 {
		res.Delivered = []bool{false}
		return res
	}

	res.Delivered = s.sendToMany(ctx, ids, messageID, text, attachments)
	return res
}

// dispatchAll is the wildcard pseudo-pair: the entire non-admin group
// population, same per-recipient handling as any other pair.
func (s *Service) dispatchAll(ctx context.Context, messageID int64, text string, attachments []string) PairResult {
	res := PairResult{Course: allLabel, Faculty: allLabel}

	ids, err := s.dir.AllGroupIDs(ctx, true)
	if err != nil {
		s.log.Error("group lookup failed", logx.String("course", allLabel), logx.Err(err))
		res.Delivered = []bool{false}
		return res
	}
	if len(ids) == 0 {
		res.Delivered = []bool{false}
		return res
	}

	res.Delivered = s.sendToMany(ctx, ids, messageID, text, attachments)
	return res
}

func (s *Service) sendToMany(ctx context.Context, ids []int64, messageID int64, text string, attachments []string) []bool {
	out := make([]bool, 0, len(ids))
	for _, gid := range ids {
		delivered := s.sendToGroup(ctx, gid, text, attachments)
		out = append(out, delivered)
		if err := s.ledger.RecordReceipt(ctx, gid, messageID, delivered); err != nil {
			s.log.Error("receipt write failed",
				logx.Int64("group", gid),
				logx.Int64("message", messageID),
				logx.Err(err))
		}
	}
	return out
}

// sendToGroup performs one outbound send and classifies the outcome. It
// never fails upward; every error becomes a false. A permanent rejection is
// the one place the broadcast path mutates the directory.
func (s *Service) sendToGroup(ctx context.Context, groupID int64, text string, attachments []string) bool {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return false
		}
	}

	err := s.sender.SendText(ctx, transport.Target{ChatID: groupID}, text, attachments)
	switch {
	case err == nil:
		return true
	case transport.IsPermanentRejection(err):
		s.log.Warn("group permanently unreachable; deregistering",
			logx.Int64("group", groupID), logx.Err(err))
		if derr := s.dir.DeleteGroup(ctx, groupID); derr != nil {
			s.log.Error("group delete failed", logx.Int64("group", groupID), logx.Err(derr))
		}
		return false
	default:
		s.log.Error("send failed", logx.Int64("group", groupID), logx.Err(err))
		return false
	}
}

func (s *Service) facultyLabel(ctx context.Context, facultyID int64) string {
	if facultyID == 0 {
		return "all"
	}
	name, ok, err := s.dir.FacultyNameByID(ctx, facultyID)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn("faculty name lookup failed", logx.Int64("faculty", facultyID), logx.Err(err))
		}
		return unknownFaculty
	}
	return name
}
