package route

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"tapboard/src-server/model"
	"tapboard/src-server/presence"
	"tapboard/src-server/utils"
	"time"
)

func Presence(muxer *http.ServeMux, as *utils.AppState, core *presence.Core) {
	actingMember := func(w http.ResponseWriter, r *http.Request) (*model.Member, bool) {
		memberModel, ok := r.Context().Value(MemberCtxKey).(*model.Member)
		if !ok {
			writeError(w, http.StatusInternalServerError, "can't get member from middleware")
			return nil, false
		}
		return memberModel, true
	}

	// active check-in points for the kiosk/location picker
	muxer.HandleFunc("GET /presence/locations", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			startTimer := time.Now()
			locationModels, err := core.Store.ActiveLocations(r.Context())
			if err != nil {
				slog.Error("can't get active locations", "error", err)
				writeError(w, http.StatusInternalServerError, "can't get locations")
				return
			}
			utils.Observe(as.MetricChans.DatabaseRead, float64(time.Since(startTimer).Microseconds()))

			locations := make([]LocationRespBody, 0, len(locationModels))
			for i := range locationModels {
				locations = append(locations, *dtoLocation(&locationModels[i]))
			}
			writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
		}))

	type TapRespBody struct {
		Debounced bool                  `json:"debounced"`
		IsIn      bool                  `json:"isIn"`
		Location  presence.LocationLite `json:"location"`
		Since     int64                 `json:"since"`
		User      map[string]string     `json:"user"`
	}

	// QR/NFC toggle; debounced repeats are a successful no-op
	muxer.HandleFunc("GET /presence/tap", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			memberModel, ok := actingMember(w, r)
			if !ok {
				return
			}

			startTimer := time.Now()
			result, err := core.Engine.Tap(r.Context(), memberModel.ID, r.URL.Query().Get("loc"))
			switch {
			case errors.Is(err, presence.ErrLocationNotFound):
				writeError(w, http.StatusNotFound, "location not found")
				return
			case errors.Is(err, presence.ErrMemberNotFound):
				writeError(w, http.StatusNotFound, "member not found")
				return
			case err != nil:
				slog.Error("tap failed", "member", memberModel.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "tap failed")
				return
			}
			utils.Observe(as.MetricChans.DatabaseWrite, float64(time.Since(startTimer).Microseconds()))
			utils.Observe(as.MetricChans.TapEvents, 1)

			writeJSON(w, http.StatusOK, TapRespBody{
				Debounced: result.Debounced,
				IsIn:      result.IsIn,
				Location:  result.Location,
				Since:     result.Since.UnixMilli(),
				User:      map[string]string{"id": memberModel.ID},
			})
		}))

	type CheckInReqBody struct {
		LocationID string `json:"locationId"`
		Notes      string `json:"notes"`
	}

	muxer.HandleFunc("POST /presence/checkin", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			memberModel, ok := actingMember(w, r)
			if !ok {
				return
			}

			var reqBody CheckInReqBody
			if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil || reqBody.LocationID == "" {
				writeError(w, http.StatusBadRequest, "locationId required")
				return
			}

			startTimer := time.Now()
			sessionModel, err := core.Engine.CheckIn(r.Context(), memberModel.ID, reqBody.LocationID, reqBody.Notes)
			var alreadyCheckedIn *presence.AlreadyCheckedInError
			var validationErr *presence.ValidationError
			switch {
			case errors.As(err, &alreadyCheckedIn):
				writeError(w, http.StatusConflict, "already checked in")
				return
			case errors.As(err, &validationErr):
				writeError(w, http.StatusBadRequest, validationErr.Msg)
				return
			case errors.Is(err, presence.ErrLocationNotFound):
				writeError(w, http.StatusNotFound, "location not found")
				return
			case errors.Is(err, presence.ErrMemberNotFound):
				writeError(w, http.StatusNotFound, "member not found")
				return
			case err != nil:
				slog.Error("check-in failed", "member", memberModel.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "check-in failed")
				return
			}
			utils.Observe(as.MetricChans.DatabaseWrite, float64(time.Since(startTimer).Microseconds()))

			writeJSON(w, http.StatusOK, map[string]any{
				"ok":      true,
				"session": dtoSession(sessionModel),
			})
		}))

	muxer.HandleFunc("POST /presence/checkout", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			memberModel, ok := actingMember(w, r)
			if !ok {
				return
			}

			startTimer := time.Now()
			sessionModel, err := core.Engine.CheckOut(r.Context(), memberModel.ID)
			switch {
			case errors.Is(err, presence.ErrNoOpenSession):
				writeError(w, http.StatusNotFound, "no open session")
				return
			case err != nil:
				slog.Error("check-out failed", "member", memberModel.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "check-out failed")
				return
			}
			utils.Observe(as.MetricChans.DatabaseWrite, float64(time.Since(startTimer).Microseconds()))

			writeJSON(w, http.StatusOK, dtoSession(sessionModel))
		}))

	type StatusRespBody struct {
		IsIn     bool              `json:"isIn"`
		Location *string           `json:"location"`
		Since    *string           `json:"since"`
		User     map[string]string `json:"user"`
	}

	muxer.HandleFunc("GET /presence/status", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			memberModel, ok := actingMember(w, r)
			if !ok {
				return
			}

			open, err := core.Engine.Status(r.Context(), memberModel.ID)
			if err != nil {
				slog.Error("can't get status", "member", memberModel.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "can't get status")
				return
			}

			respBody := StatusRespBody{User: map[string]string{"id": memberModel.ID}}
			if open != nil {
				respBody.IsIn = true
				respBody.Location = &open.LocationID
				since := open.CheckInAt.UTC().Format(time.RFC3339)
				respBody.Since = &since
			}
			writeJSON(w, http.StatusOK, respBody)
		}))

	// live dashboard stream
	muxer.HandleFunc("GET /presence/stream", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			flusher, ok := w.(http.Flusher)
			if !ok {
				writeError(w, http.StatusInternalServerError, "streaming unsupported")
				return
			}
			if err := core.Cache.EnsureHydrated(r.Context()); err != nil {
				slog.Error("can't hydrate active session cache", "error", err)
				writeError(w, http.StatusInternalServerError, "can't load active sessions")
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache, no-transform")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			sub := core.Hub.Subscribe()
			defer sub.Close()

			for {
				select {
				case <-r.Context().Done():
					return
				case frame := <-sub.Frames():
					if _, err := w.Write(frame); err != nil {
						return
					}
					flusher.Flush()
				}
			}
		}))

	// poll fallback for clients without EventSource
	muxer.HandleFunc("GET /presence/active", AuthMiddleware(as,
		func(w http.ResponseWriter, r *http.Request) {
			if err := core.Cache.EnsureHydrated(r.Context()); err != nil {
				slog.Error("can't hydrate active session cache", "error", err)
				writeError(w, http.StatusInternalServerError, "can't load active sessions")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"active": core.Cache.Snapshot()})
		}))
}
