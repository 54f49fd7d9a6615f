package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"tapboard/src-server/model"
	"tapboard/src-server/presence"
	"tapboard/src-server/utils"
	"time"

	"github.com/google/uuid"
)

// Accepts RFC3339 first, then natural language ("last week") via the
// when parser.
func parseTimeParam(as *utils.AppState, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	result, err := as.When.Parse(raw, time.Now().In(as.Config.GetLocation()))
	if err == nil && result != nil {
		return result.Time, nil
	}
	return time.Time{}, fmt.Errorf("can't parse time %q", raw)
}

func Admin(muxer *http.ServeMux, as *utils.AppState, core *presence.Core) {
	exec := func(next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
		return AuthMiddleware(as, ExecMiddleware(next))
	}

	// guard + health
	muxer.HandleFunc("GET /admin/ping", exec(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}))

	muxer.HandleFunc("GET /admin/members", exec(func(w http.ResponseWriter, r *http.Request) {
		memberModels := make([]model.Member, 0)
		if err := as.BunDB.
			NewSelect().
			Model(&memberModels).
			Order("handle ASC").
			Scan(r.Context()); err != nil {
			slog.Error("can't get members", "error", err)
			writeError(w, http.StatusInternalServerError, "can't get members")
			return
		}

		members := make([]MemberRespBody, 0, len(memberModels))
		for i := range memberModels {
			members = append(members, *dtoMember(&memberModels[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
	}))

	// all locations, inactive included, for the admin dropdowns
	muxer.HandleFunc("GET /admin/locations", exec(func(w http.ResponseWriter, r *http.Request) {
		locationModels := make([]model.Location, 0)
		if err := as.BunDB.
			NewSelect().
			Model(&locationModels).
			Order("name ASC").
			Scan(r.Context()); err != nil {
			slog.Error("can't get locations", "error", err)
			writeError(w, http.StatusInternalServerError, "can't get locations")
			return
		}

		locations := make([]LocationRespBody, 0, len(locationModels))
		for i := range locationModels {
			locations = append(locations, *dtoLocation(&locationModels[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
	}))

	type CreateLocationReqBody struct {
		Name string `json:"name"`
	}

	muxer.HandleFunc("POST /admin/locations", exec(func(w http.ResponseWriter, r *http.Request) {
		var reqBody CreateLocationReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name := utils.CleanupString(reqBody.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name required")
			return
		}

		locationModel := &model.Location{
			ID:     uuid.NewString(),
			Name:   name,
			Active: true,
		}
		if _, err := as.BunDB.
			NewInsert().
			Model(locationModel).
			Exec(r.Context()); err != nil {
			slog.Error("can't create location", "name", name, "error", err)
			writeError(w, http.StatusConflict, "can't create location")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "location": dtoLocation(locationModel)})
	}))

	type PatchLocationReqBody struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}

	muxer.HandleFunc("PATCH /admin/locations/{id}", exec(func(w http.ResponseWriter, r *http.Request) {
		var reqBody PatchLocationReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		locationModel, err := core.Store.LocationByID(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if reqBody.Name != nil {
			locationModel.Name = utils.CleanupString(*reqBody.Name)
		}
		if reqBody.Active != nil {
			locationModel.Active = *reqBody.Active
		}

		if _, err := as.BunDB.
			NewUpdate().
			Model(locationModel).
			WherePK().
			Exec(r.Context()); err != nil {
			slog.Error("can't update location", "id", locationModel.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "can't update location")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "location": dtoLocation(locationModel)})
	}))

	// cache-served, never hits storage per request
	muxer.HandleFunc("GET /admin/sessions/active", exec(func(w http.ResponseWriter, r *http.Request) {
		if err := core.Cache.EnsureHydrated(r.Context()); err != nil {
			slog.Error("can't hydrate active session cache", "error", err)
			writeError(w, http.StatusInternalServerError, "can't load active sessions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": core.Cache.Snapshot(),
			"cached":   true,
		})
	}))

	// past sessions, paged + filtered
	muxer.HandleFunc("GET /admin/sessions/past", exec(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		page, _ := strconv.Atoi(query.Get("page"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(query.Get("pageSize"))
		if pageSize < 1 {
			pageSize = 50
		}
		if pageSize > 200 {
			pageSize = 200
		}

		sessionModels := make([]model.Session, 0)
		listQuery := as.BunDB.
			NewSelect().
			Model(&sessionModels).
			Where("check_out_at IS NOT NULL").
			Order("check_in_at DESC").
			Relation("Member").
			Relation("Location")

		if from, err := parseTimeParam(as, query.Get("from"), time.Time{}); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		} else if !from.IsZero() {
			listQuery = listQuery.Where("check_in_at >= ?", from)
		}
		if to, err := parseTimeParam(as, query.Get("to"), time.Time{}); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		} else if !to.IsZero() {
			listQuery = listQuery.Where("check_in_at <= ?", to)
		}
		if memberID := query.Get("memberId"); memberID != "" {
			listQuery = listQuery.Where("member_id = ?", memberID)
		}
		if locationID := query.Get("locationId"); locationID != "" {
			listQuery = listQuery.Where("location_id = ?", locationID)
		}

		total, err := listQuery.
			Offset((page - 1) * pageSize).
			Limit(pageSize).
			ScanAndCount(r.Context())
		if err != nil {
			slog.Error("can't get past sessions", "error", err)
			writeError(w, http.StatusInternalServerError, "can't get sessions")
			return
		}

		sessions := make([]SessionRespBody, 0, len(sessionModels))
		for i := range sessionModels {
			sessions = append(sessions, dtoSession(&sessionModels[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
			"sessions": sessions,
		})
	}))

	type CreateSessionReqBody struct {
		MemberID   string `json:"memberId"`
		LocationID string `json:"locationId"`
		CheckInAt  string `json:"checkInAt"`
		Notes      string `json:"notes"`
	}

	// seed/correct a session from the admin GUI; still refuses a
	// second open session for the member
	muxer.HandleFunc("POST /admin/sessions", exec(func(w http.ResponseWriter, r *http.Request) {
		var reqBody CreateSessionReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil ||
			reqBody.MemberID == "" || reqBody.LocationID == "" {
			writeError(w, http.StatusBadRequest, "memberId/locationId required")
			return
		}

		exists, err := core.Store.MemberExists(r.Context(), reqBody.MemberID)
		if err != nil || !exists {
			writeError(w, http.StatusNotFound, "member not found")
			return
		}
		if _, err := core.Store.LocationByID(r.Context(), reqBody.LocationID); err != nil {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}

		checkInAt := time.Now()
		if reqBody.CheckInAt != "" {
			checkInAt, err = parseTimeParam(as, reqBody.CheckInAt, time.Time{})
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid checkInAt")
				return
			}
		}

		open, err := core.Store.OpenSessionForMember(r.Context(), reqBody.MemberID)
		if err != nil {
			slog.Error("can't check open session", "error", err)
			writeError(w, http.StatusInternalServerError, "can't check open session")
			return
		}
		if open != nil {
			writeError(w, http.StatusConflict, "already checked in")
			return
		}

		sessionModel := &model.Session{
			ID:         uuid.NewString(),
			MemberID:   reqBody.MemberID,
			LocationID: reqBody.LocationID,
			CheckInAt:  checkInAt,
			Notes:      reqBody.Notes,
		}
		if err := core.Store.CreateSession(r.Context(), sessionModel); err != nil {
			slog.Error("can't create session", "error", err)
			writeError(w, http.StatusInternalServerError, "can't create session")
			return
		}
		full, err := core.Store.SessionByID(r.Context(), sessionModel.ID)
		if err != nil {
			slog.Error("can't reload session", "error", err)
			writeError(w, http.StatusInternalServerError, "can't reload session")
			return
		}

		core.Cache.Upsert(full)
		core.Hub.Publish()
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "session": dtoSession(full)})
	}))

	// end a session now
	muxer.HandleFunc("POST /admin/sessions/{id}/checkout", exec(func(w http.ResponseWriter, r *http.Request) {
		sessionModel, err := core.Store.CloseSession(r.Context(), r.PathValue("id"), time.Now())
		if err != nil {
			if errors.Is(err, presence.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			slog.Error("can't close session", "id", r.PathValue("id"), "error", err)
			writeError(w, http.StatusInternalServerError, "can't close session")
			return
		}

		core.Cache.Upsert(sessionModel)
		core.Hub.Publish()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": dtoSession(sessionModel)})
	}))

	type EditSessionReqBody struct {
		CheckInAt *string `json:"checkInAt"`
		// distinguishes absent (leave alone) from null (reopen)
		CheckOutAt json.RawMessage `json:"checkOutAt"`
		Notes      *string         `json:"notes"`
	}

	// retroactive corrections; bypasses the tap/debounce logic but
	// still defends the one-open-session invariant
	muxer.HandleFunc("PATCH /admin/sessions/{id}", exec(func(w http.ResponseWriter, r *http.Request) {
		var reqBody EditSessionReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sessionModel, err := core.Store.SessionByID(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}

		if reqBody.CheckInAt != nil {
			checkInAt, err := parseTimeParam(as, *reqBody.CheckInAt, time.Time{})
			if err != nil || checkInAt.IsZero() {
				writeError(w, http.StatusBadRequest, "invalid checkInAt")
				return
			}
			sessionModel.CheckInAt = checkInAt
		}
		if len(reqBody.CheckOutAt) > 0 {
			if string(reqBody.CheckOutAt) == "null" {
				sessionModel.CheckOutAt = nil
			} else {
				var raw string
				if err := json.Unmarshal(reqBody.CheckOutAt, &raw); err != nil {
					writeError(w, http.StatusBadRequest, "invalid checkOutAt")
					return
				}
				checkOutAt, err := parseTimeParam(as, raw, time.Time{})
				if err != nil || checkOutAt.IsZero() {
					writeError(w, http.StatusBadRequest, "invalid checkOutAt")
					return
				}
				sessionModel.CheckOutAt = &checkOutAt
			}
		}
		if reqBody.Notes != nil {
			sessionModel.Notes = *reqBody.Notes
		}

		if sessionModel.CheckOutAt != nil && sessionModel.CheckOutAt.Before(sessionModel.CheckInAt) {
			writeError(w, http.StatusBadRequest, "checkOutAt must be >= checkInAt")
			return
		}
		if sessionModel.CheckOutAt == nil {
			open, err := core.Store.OpenSessionForMember(r.Context(), sessionModel.MemberID)
			if err != nil {
				slog.Error("can't check open session", "error", err)
				writeError(w, http.StatusInternalServerError, "can't check open session")
				return
			}
			if open != nil && open.ID != sessionModel.ID {
				writeError(w, http.StatusConflict, "member already has an open session")
				return
			}
		}

		if _, err := as.BunDB.
			NewUpdate().
			Model(sessionModel).
			Column("check_in_at", "check_out_at", "notes").
			WherePK().
			Exec(r.Context()); err != nil {
			slog.Error("can't update session", "id", sessionModel.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "can't update session")
			return
		}

		core.Cache.Upsert(sessionModel)
		core.Hub.Publish()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": dtoSession(sessionModel)})
	}))

	// autokick config
	muxer.HandleFunc("GET /admin/config", exec(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"config": map[string]int{"autokickMinutes": core.Autokick.Minutes(r.Context())},
		})
	}))

	type ConfigReqBody struct {
		AutokickMinutes *int `json:"autokickMinutes"`
	}

	muxer.HandleFunc("POST /admin/config", exec(func(w http.ResponseWriter, r *http.Request) {
		var reqBody ConfigReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil ||
			reqBody.AutokickMinutes == nil || *reqBody.AutokickMinutes < 0 {
			writeError(w, http.StatusBadRequest, "autokickMinutes must be >= 0")
			return
		}

		minutes := core.Autokick.SetMinutes(r.Context(), *reqBody.AutokickMinutes)
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"config": map[string]int{"autokickMinutes": minutes},
		})
	}))

	// hours for one member over a window
	muxer.HandleFunc("GET /admin/stats/member-hours", exec(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		memberID := query.Get("memberId")
		if memberID == "" {
			writeError(w, http.StatusBadRequest, "memberId required")
			return
		}

		now := time.Now()
		from, err := parseTimeParam(as, query.Get("from"), time.Unix(0, 0))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		to, err := parseTimeParam(as, query.Get("to"), now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}

		hours, err := presence.SumMemberHours(r.Context(), core.Store, memberID, from, to, now)
		if err != nil {
			slog.Error("can't sum member hours", "member", memberID, "error", err)
			writeError(w, http.StatusInternalServerError, "can't sum member hours")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"memberId": memberID,
			"from":     from.UTC().Format(time.RFC3339),
			"to":       to.UTC().Format(time.RFC3339),
			"totalMs":  hours.TotalMs,
			"hours":    hours.Hours,
		})
	}))

	muxer.HandleFunc("GET /admin/stats/leaderboard", exec(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		now := time.Now()
		from, err := parseTimeParam(as, query.Get("from"), time.Unix(0, 0))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		to, err := parseTimeParam(as, query.Get("to"), now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		limit, _ := strconv.Atoi(query.Get("limit"))
		if limit < 1 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		board, err := presence.Leaderboard(r.Context(), core.Store, from, to, now, limit)
		if err != nil {
			slog.Error("can't build leaderboard", "error", err)
			writeError(w, http.StatusInternalServerError, "can't build leaderboard")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"from":        from.UTC().Format(time.RFC3339),
			"to":          to.UTC().Format(time.RFC3339),
			"leaderboard": board,
		})
	}))
}
