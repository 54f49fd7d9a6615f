package presence

import (
	"context"
	"math"
	"sort"
	"time"
)

type MemberHours struct {
	MemberID string  `json:"memberId"`
	Handle   string  `json:"handle,omitempty"`
	TotalMs  int64   `json:"totalMs"`
	Hours    float64 `json:"hours"`
	Sessions int     `json:"sessions"`
}

// Milliseconds a session contributes to the [from, to) window:
// max(0, min(end, to) - max(start, from)). A still-open session is
// counted up to now.
func OverlapMs(checkInAt time.Time, checkOutAt *time.Time, from, to, now time.Time) int64 {
	end := now
	if checkOutAt != nil {
		end = *checkOutAt
	}

	start := checkInAt
	if from.After(start) {
		start = from
	}
	if to.Before(end) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}

func roundHours(totalMs int64) float64 {
	return math.Round(float64(totalMs)/3600000*100) / 100
}

// Total presence of one member inside the window.
func SumMemberHours(ctx context.Context, store Store, memberID string, from, to, now time.Time) (*MemberHours, error) {
	sessionModels, err := store.SessionsOverlapping(ctx, memberID, from, to)
	if err != nil {
		return nil, err
	}

	result := &MemberHours{MemberID: memberID}
	for i := range sessionModels {
		seg := OverlapMs(sessionModels[i].CheckInAt, sessionModels[i].CheckOutAt, from, to, now)
		if seg <= 0 {
			continue
		}
		result.TotalMs += seg
		result.Sessions++
	}
	result.Hours = roundHours(result.TotalMs)
	return result, nil
}

// Per-member presence totals inside the window, highest first,
// trimmed to limit.
func Leaderboard(ctx context.Context, store Store, from, to, now time.Time, limit int) ([]MemberHours, error) {
	sessionModels, err := store.SessionsOverlapping(ctx, "", from, to)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*MemberHours)
	for i := range sessionModels {
		seg := OverlapMs(sessionModels[i].CheckInAt, sessionModels[i].CheckOutAt, from, to, now)
		if seg <= 0 {
			continue
		}

		entry, ok := totals[sessionModels[i].MemberID]
		if !ok {
			entry = &MemberHours{MemberID: sessionModels[i].MemberID}
			if sessionModels[i].Member != nil {
				entry.Handle = sessionModels[i].Member.Handle
			}
			totals[sessionModels[i].MemberID] = entry
		}
		entry.TotalMs += seg
		entry.Sessions++
	}

	board := make([]MemberHours, 0, len(totals))
	for _, entry := range totals {
		entry.Hours = roundHours(entry.TotalMs)
		board = append(board, *entry)
	}
	sort.Slice(board, func(i, j int) bool {
		return board[i].TotalMs > board[j].TotalMs
	})
	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}
