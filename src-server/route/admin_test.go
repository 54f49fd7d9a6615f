package route_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"tapboard/src-server/model"
	"tapboard/src-server/route"
	"tapboard/src-server/utils"
	"testing"
	"time"

	"github.com/google/uuid"
)

func seedSessionSecret(t *testing.T, as *utils.AppState, memberID string) string {
	t.Helper()
	secret := uuid.NewString()
	if _, err := as.BunDB.NewInsert().
		Model(&model.AuthToken{
			Secret:    secret,
			Purpose:   model.AUTH_TOKEN_PURPOSE_SESSION,
			MemberID:  memberID,
			CreatedAt: time.Now(),
		}).
		Exec(context.Background()); err != nil {
		t.Fatal(err)
	}
	return secret
}

// request authenticated with an interactive session cookie
func doCookieReq(muxer *http.ServeMux, method, target, secret, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.AddCookie(&http.Cookie{Name: route.SessionSecretCookieName, Value: secret})
	w := httptest.NewRecorder()
	muxer.ServeHTTP(w, req)
	return w
}

func TestAdminExecGate(t *testing.T) {
	as, _, muxer := newTestRouter(t)

	// case: a regular member can't reach the admin surface
	regularSecret := seedSessionSecret(t, as, testMemberID)
	w := doCookieReq(muxer, http.MethodGet, "/admin/ping", regularSecret, "")
	if w.Code != http.StatusUnauthorized {
		t.Error("non-exec should 401", w.Code, w.Body.String())
	}

	// case: an exec can
	execSecret := seedSessionSecret(t, as, testExecID)
	w = doCookieReq(muxer, http.MethodGet, "/admin/ping", execSecret, "")
	if w.Code != http.StatusOK {
		t.Error("exec should pass the gate", w.Code, w.Body.String())
	}

	// case: no credentials at all
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	rec := httptest.NewRecorder()
	muxer.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Error("anonymous admin call should 401", rec.Code)
	}
}

func TestAdminLocationLifecycle(t *testing.T) {
	as, _, muxer := newTestRouter(t)
	execSecret := seedSessionSecret(t, as, testExecID)

	// case: names are normalized on create
	w := doCookieReq(muxer, http.MethodPost, "/admin/locations", execSecret, `{"name":"  back room "}`)
	if w.Code != http.StatusCreated {
		t.Fatal("create location should succeed", w.Code, w.Body.String())
	}
	var createBody struct {
		Location struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"location"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &createBody); err != nil {
		t.Fatal(err)
	}
	if createBody.Location.Name != "Back Room" {
		t.Error("name should be cleaned and title-cased", createBody.Location.Name)
	}

	// case: duplicate name conflicts
	w = doCookieReq(muxer, http.MethodPost, "/admin/locations", execSecret, `{"name":"Back Room"}`)
	if w.Code != http.StatusConflict {
		t.Error("duplicate location should 409", w.Code)
	}

	// case: deactivating hides it from tap resolution
	w = doCookieReq(muxer, http.MethodPatch, "/admin/locations/"+createBody.Location.ID, execSecret, `{"active":false}`)
	if w.Code != http.StatusOK {
		t.Fatal("patch location should succeed", w.Code, w.Body.String())
	}
	w = doBotReq(muxer, http.MethodGet, "/presence/tap?loc=Back+Room", testMemberID, "")
	if w.Code != http.StatusNotFound {
		t.Error("tap against a deactivated location should 404", w.Code)
	}

	// case: admin listing still shows it, the kiosk listing doesn't
	w = doCookieReq(muxer, http.MethodGet, "/admin/locations", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	if !strings.Contains(w.Body.String(), "Back Room") {
		t.Error("admin listing should include inactive locations")
	}
	w = doBotReq(muxer, http.MethodGet, "/presence/locations", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	if strings.Contains(w.Body.String(), "Back Room") {
		t.Error("kiosk listing should hide inactive locations")
	}
}

func TestAdminSessionCorrections(t *testing.T) {
	as, core, muxer := newTestRouter(t)
	execSecret := seedSessionSecret(t, as, testExecID)

	// case: backfill a past session
	w := doCookieReq(muxer, http.MethodPost, "/admin/sessions", execSecret,
		`{"memberId":"`+testMemberID+`","locationId":"`+testLocationID+`","checkInAt":"2025-03-01T09:00:00Z"}`)
	if w.Code != http.StatusCreated {
		t.Fatal("create session should succeed", w.Code, w.Body.String())
	}
	var createBody struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &createBody); err != nil {
		t.Fatal(err)
	}
	if core.Cache.Len() != 1 {
		t.Error("admin-created open session should land in the cache", core.Cache.Len())
	}

	// case: a second open session for the member is refused
	w = doCookieReq(muxer, http.MethodPost, "/admin/sessions", execSecret,
		`{"memberId":"`+testMemberID+`","locationId":"`+testLocationID+`"}`)
	if w.Code != http.StatusConflict {
		t.Error("second open session should 409", w.Code)
	}

	// case: checkOutAt before checkInAt is rejected
	w = doCookieReq(muxer, http.MethodPatch, "/admin/sessions/"+createBody.Session.ID, execSecret,
		`{"checkOutAt":"2025-03-01T08:00:00Z"}`)
	if w.Code != http.StatusBadRequest {
		t.Error("inverted interval should 400", w.Code, w.Body.String())
	}

	// case: closing by edit evicts from the cache
	w = doCookieReq(muxer, http.MethodPatch, "/admin/sessions/"+createBody.Session.ID, execSecret,
		`{"checkOutAt":"2025-03-01T11:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatal("edit should succeed", w.Code, w.Body.String())
	}
	if core.Cache.Len() != 0 {
		t.Error("closed session should leave the cache", core.Cache.Len())
	}

	// case: the closed session shows up in the past listing
	w = doCookieReq(muxer, http.MethodGet, "/admin/sessions/past", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	var pastBody struct {
		Total    int `json:"total"`
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &pastBody); err != nil {
		t.Fatal(err)
	}
	if pastBody.Total != 1 || len(pastBody.Sessions) != 1 || pastBody.Sessions[0].ID != createBody.Session.ID {
		t.Error("past listing mismatch", w.Body.String())
	}

	// case: null checkOutAt reopens
	w = doCookieReq(muxer, http.MethodPatch, "/admin/sessions/"+createBody.Session.ID, execSecret,
		`{"checkOutAt":null}`)
	if w.Code != http.StatusOK {
		t.Fatal("reopen should succeed", w.Code, w.Body.String())
	}
	if core.Cache.Len() != 1 {
		t.Error("reopened session should be back in the cache", core.Cache.Len())
	}

	// case: force checkout
	w = doCookieReq(muxer, http.MethodPost, "/admin/sessions/"+createBody.Session.ID+"/checkout", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal("force checkout should succeed", w.Code, w.Body.String())
	}
	if core.Cache.Len() != 0 {
		t.Error("force checkout should evict from the cache", core.Cache.Len())
	}

	// case: reopening is refused while the member has another open
	// session
	w = doBotReq(muxer, http.MethodPost, "/presence/checkin", testMemberID,
		`{"locationId":"`+testLocationID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatal("check-in should succeed", w.Code)
	}
	w = doCookieReq(muxer, http.MethodPatch, "/admin/sessions/"+createBody.Session.ID, execSecret,
		`{"checkOutAt":null}`)
	if w.Code != http.StatusConflict {
		t.Error("reopen with another open session should 409", w.Code, w.Body.String())
	}
}

func TestAdminConfigRoundTrip(t *testing.T) {
	as, core, muxer := newTestRouter(t)
	execSecret := seedSessionSecret(t, as, testExecID)

	w := doCookieReq(muxer, http.MethodPost, "/admin/config", execSecret, `{"autokickMinutes":45}`)
	if w.Code != http.StatusOK {
		t.Fatal("set config should succeed", w.Code, w.Body.String())
	}

	w = doCookieReq(muxer, http.MethodGet, "/admin/config", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	var respBody struct {
		Config struct {
			AutokickMinutes int `json:"autokickMinutes"`
		} `json:"config"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &respBody); err != nil {
		t.Fatal(err)
	}
	if respBody.Config.AutokickMinutes != 45 {
		t.Error("config should round-trip", w.Body.String())
	}
	if got := core.Autokick.Minutes(context.Background()); got != 45 {
		t.Error("sweeper should see the new threshold", got)
	}

	// case: negative values are rejected
	w = doCookieReq(muxer, http.MethodPost, "/admin/config", execSecret, `{"autokickMinutes":-1}`)
	if w.Code != http.StatusBadRequest {
		t.Error("negative threshold should 400", w.Code)
	}
}

func TestAdminStats(t *testing.T) {
	as, _, muxer := newTestRouter(t)
	execSecret := seedSessionSecret(t, as, testExecID)

	day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	checkOutAt := day.Add(11 * time.Hour)
	if _, err := as.BunDB.NewInsert().
		Model(&model.Session{
			ID:         uuid.NewString(),
			MemberID:   testMemberID,
			LocationID: testLocationID,
			CheckInAt:  day.Add(9 * time.Hour),
			CheckOutAt: &checkOutAt,
		}).
		Exec(context.Background()); err != nil {
		t.Fatal(err)
	}

	// case: member hours over an explicit window
	w := doCookieReq(muxer, http.MethodGet,
		"/admin/stats/member-hours?memberId="+testMemberID+
			"&from=2020-03-01T00:00:00Z&to=2020-03-02T00:00:00Z", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal("member hours should succeed", w.Code, w.Body.String())
	}
	var hoursBody struct {
		TotalMs int64   `json:"totalMs"`
		Hours   float64 `json:"hours"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hoursBody); err != nil {
		t.Fatal(err)
	}
	if hoursBody.TotalMs != 2*3_600_000 || hoursBody.Hours != 2 {
		t.Error("member hours mismatch", w.Body.String())
	}

	// case: leaderboard over the same window
	w = doCookieReq(muxer, http.MethodGet,
		"/admin/stats/leaderboard?from=2020-03-01T00:00:00Z&to=2020-03-02T00:00:00Z", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal("leaderboard should succeed", w.Code, w.Body.String())
	}
	var boardBody struct {
		Leaderboard []struct {
			MemberID string `json:"memberId"`
			TotalMs  int64  `json:"totalMs"`
		} `json:"leaderboard"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &boardBody); err != nil {
		t.Fatal(err)
	}
	if len(boardBody.Leaderboard) != 1 || boardBody.Leaderboard[0].MemberID != testMemberID {
		t.Error("leaderboard mismatch", w.Body.String())
	}

	// case: natural-language ranges parse; the seeded session falls
	// outside [yesterday, now] so the total is zero
	w = doCookieReq(muxer, http.MethodGet,
		"/admin/stats/member-hours?memberId="+testMemberID+"&from=yesterday", execSecret, "")
	if w.Code != http.StatusOK {
		t.Fatal("natural-language from should parse", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hoursBody); err != nil {
		t.Fatal(err)
	}
	if hoursBody.TotalMs != 0 {
		t.Error("old session should not overlap [yesterday, now]", hoursBody.TotalMs)
	}

	// case: garbage time params are a 400
	w = doCookieReq(muxer, http.MethodGet,
		"/admin/stats/member-hours?memberId="+testMemberID+"&from=not-a-real-time", execSecret, "")
	if w.Code != http.StatusBadRequest {
		t.Error("unparseable from should 400", w.Code)
	}
}
