package route

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"tapboard/src-server/model"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("can't write response body", "error", err)
	}
}

// Kiosk-friendly failure shape; internals never leak here.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type MemberRespBody struct {
	ID        string `json:"id"`
	Handle    string `json:"handle"`
	AvatarUrl string `json:"avatarUrl"`
	IsExec    bool   `json:"isExec"`
}

type LocationRespBody struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type SessionRespBody struct {
	ID         string            `json:"id"`
	MemberID   string            `json:"memberId"`
	Member     *MemberRespBody   `json:"member,omitempty"`
	Location   *LocationRespBody `json:"location,omitempty"`
	CheckInAt  string            `json:"checkInAt"`
	CheckOutAt *string           `json:"checkOutAt"`
	Notes      string            `json:"notes,omitempty"`
}

func dtoMember(m *model.Member) *MemberRespBody {
	if m == nil {
		return nil
	}
	return &MemberRespBody{
		ID:        m.ID,
		Handle:    m.Handle,
		AvatarUrl: m.AvatarUrl,
		IsExec:    m.IsExec,
	}
}

func dtoLocation(l *model.Location) *LocationRespBody {
	if l == nil {
		return nil
	}
	return &LocationRespBody{
		ID:     l.ID,
		Name:   l.Name,
		Active: l.Active,
	}
}

func dtoSession(s *model.Session) SessionRespBody {
	body := SessionRespBody{
		ID:        s.ID,
		MemberID:  s.MemberID,
		Member:    dtoMember(s.Member),
		Location:  dtoLocation(s.Location),
		CheckInAt: s.CheckInAt.UTC().Format(time.RFC3339),
		Notes:     s.Notes,
	}
	if s.CheckOutAt != nil {
		checkOutAt := s.CheckOutAt.UTC().Format(time.RFC3339)
		body.CheckOutAt = &checkOutAt
	}
	return body
}
