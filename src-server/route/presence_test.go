package route_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"tapboard/src-server/model"
	"tapboard/src-server/presence"
	"tapboard/src-server/route"
	"tapboard/src-server/utils"
	"testing"
	"time"
)

const (
	testBotApiKey  = "bot-test-key"
	testMemberID   = "111111111111111111"
	testExecID     = "222222222222222222"
	testLocationID = "loc-workshop"
)

// full router over a temp-file database, bot key set, dev mode on so
// the auth exchange answers with JSON instead of a cookie
func newTestRouter(t *testing.T) (*utils.AppState, *presence.Core, *http.ServeMux) {
	t.Helper()
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "tapboard.db"))
	t.Setenv("BOT_API_KEY", testBotApiKey)
	t.Setenv("DEV", "1")
	t.Setenv("TIMEZONE", "UTC")

	as := utils.NewAppState()
	t.Cleanup(func() { as.RawDB.Close() })
	if err := model.CreateSchema(as.BunDB); err != nil {
		t.Fatal(err)
	}

	core := presence.NewCore(as.BunDB, as.MetricChans)
	muxer := http.NewServeMux()
	route.Auth(muxer, as)
	route.Presence(muxer, as, core)
	route.Admin(muxer, as, core)

	// seed: one regular member, one exec, one active location
	ctx := context.Background()
	for _, memberModel := range []model.Member{
		{ID: testMemberID, Handle: "regular member"},
		{ID: testExecID, Handle: "exec member"},
	} {
		if err := memberModel.Upsert(ctx, as.BunDB); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := as.BunDB.NewUpdate().
		Model((*model.Member)(nil)).
		Set("is_exec = ?", true).
		Where("id = ?", testExecID).
		Exec(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := as.BunDB.NewInsert().
		Model(&model.Location{
			ID:     testLocationID,
			Name:   "Workshop",
			Active: true,
		}).
		Exec(ctx); err != nil {
		t.Fatal(err)
	}

	return as, core, muxer
}

// bot-delegated request acting as memberID
func doBotReq(muxer *http.ServeMux, method, target, memberID, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(route.BotTokenHeaderName, testBotApiKey)
	if memberID != "" {
		req.Header.Set(route.BotMemberHeaderName, memberID)
	}
	w := httptest.NewRecorder()
	muxer.ServeHTTP(w, req)
	return w
}

func TestTapEndpoint(t *testing.T) {
	_, _, muxer := newTestRouter(t)

	// case: first tap checks in
	w := doBotReq(muxer, http.MethodGet, "/presence/tap?loc=Workshop", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal("tap should succeed", w.Code, w.Body.String())
	}
	var respBody struct {
		Debounced bool `json:"debounced"`
		IsIn      bool `json:"isIn"`
		Location  struct {
			ID string `json:"id"`
		} `json:"location"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &respBody); err != nil {
		t.Fatal(err)
	}
	if respBody.Debounced || !respBody.IsIn || respBody.Location.ID != testLocationID {
		t.Error("first tap should report IN", w.Body.String())
	}

	// case: immediate repeat is debounced and still IN
	w = doBotReq(muxer, http.MethodGet, "/presence/tap?loc=Workshop", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal("debounced tap should still be a 200", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &respBody); err != nil {
		t.Fatal(err)
	}
	if !respBody.Debounced || !respBody.IsIn {
		t.Error("repeat tap should be a debounced no-op", w.Body.String())
	}

	// case: unknown location
	w = doBotReq(muxer, http.MethodGet, "/presence/tap?loc=nowhere", testMemberID, "")
	if w.Code != http.StatusNotFound {
		t.Error("unknown location should 404", w.Code)
	}

	// case: unknown member
	w = doBotReq(muxer, http.MethodGet, "/presence/tap?loc=Workshop", "999999999999999999", "")
	if w.Code != http.StatusNotFound {
		t.Error("unknown member should 404", w.Code)
	}
}

func TestTapAuthRejections(t *testing.T) {
	_, _, muxer := newTestRouter(t)

	// case: no credentials at all
	req := httptest.NewRequest(http.MethodGet, "/presence/tap?loc=Workshop", nil)
	w := httptest.NewRecorder()
	muxer.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Error("anonymous tap should 401", w.Code)
	}

	// case: wrong bot token
	req = httptest.NewRequest(http.MethodGet, "/presence/tap?loc=Workshop", nil)
	req.Header.Set(route.BotTokenHeaderName, "wrong-key")
	req.Header.Set(route.BotMemberHeaderName, testMemberID)
	w = httptest.NewRecorder()
	muxer.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Error("wrong bot token should 401", w.Code)
	}

	// case: valid token but no acting member
	w = doBotReq(muxer, http.MethodGet, "/presence/tap?loc=Workshop", "", "")
	if w.Code != http.StatusBadRequest {
		t.Error("missing member id should 400", w.Code)
	}
}

func TestCheckInCheckOutEndpoints(t *testing.T) {
	_, core, muxer := newTestRouter(t)

	// case: check-in with the member id resolved from the body
	w := doBotReq(muxer, http.MethodPost, "/presence/checkin", "",
		`{"memberId":"`+testMemberID+`","locationId":"`+testLocationID+`","notes":"soldering"}`)
	if w.Code != http.StatusOK {
		t.Fatal("check-in should succeed", w.Code, w.Body.String())
	}
	if core.Cache.Len() != 1 {
		t.Error("check-in should land in the cache", core.Cache.Len())
	}

	// case: double check-in conflicts
	w = doBotReq(muxer, http.MethodPost, "/presence/checkin", testMemberID,
		`{"locationId":"`+testLocationID+`"}`)
	if w.Code != http.StatusConflict {
		t.Error("second check-in should 409", w.Code, w.Body.String())
	}

	// case: status reports IN
	w = doBotReq(muxer, http.MethodGet, "/presence/status", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal("status should succeed", w.Code)
	}
	var statusBody struct {
		IsIn     bool    `json:"isIn"`
		Location *string `json:"location"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &statusBody); err != nil {
		t.Fatal(err)
	}
	if !statusBody.IsIn || statusBody.Location == nil || *statusBody.Location != testLocationID {
		t.Error("status should report the open session", w.Body.String())
	}

	// case: checkout closes it
	w = doBotReq(muxer, http.MethodPost, "/presence/checkout", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal("checkout should succeed", w.Code, w.Body.String())
	}
	if core.Cache.Len() != 0 {
		t.Error("checkout should evict from the cache", core.Cache.Len())
	}

	// case: checkout without an open session
	w = doBotReq(muxer, http.MethodPost, "/presence/checkout", testMemberID, "")
	if w.Code != http.StatusNotFound {
		t.Error("checkout without open session should 404", w.Code)
	}
}

func TestActiveEndpoint(t *testing.T) {
	_, _, muxer := newTestRouter(t)

	w := doBotReq(muxer, http.MethodPost, "/presence/checkin", testMemberID,
		`{"locationId":"`+testLocationID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatal("check-in should succeed", w.Code)
	}

	w = doBotReq(muxer, http.MethodGet, "/presence/active", testMemberID, "")
	if w.Code != http.StatusOK {
		t.Fatal("active should succeed", w.Code)
	}
	var respBody struct {
		Active []struct {
			MemberID string `json:"memberId"`
			Member   struct {
				Handle string `json:"handle"`
			} `json:"member"`
		} `json:"active"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &respBody); err != nil {
		t.Fatal(err)
	}
	if len(respBody.Active) != 1 || respBody.Active[0].MemberID != testMemberID {
		t.Error("active should list the open session", w.Body.String())
	}
	if respBody.Active[0].Member.Handle != "regular member" {
		t.Error("active entries should be denormalized", w.Body.String())
	}
}

func TestStreamEndpointDeliversSnapshot(t *testing.T) {
	_, core, muxer := newTestRouter(t)

	w := doBotReq(muxer, http.MethodPost, "/presence/checkin", testMemberID,
		`{"locationId":"`+testLocationID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatal("check-in should succeed", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/presence/stream", nil).WithContext(ctx)
	req.Header.Set(route.BotTokenHeaderName, testBotApiKey)
	req.Header.Set(route.BotMemberHeaderName, testMemberID)

	// the handler runs until its context ends; the snapshot frame is
	// queued at subscribe time, so a short-lived context is enough
	rec := httptest.NewRecorder()
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	muxer.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Error("stream should be an event stream", got)
	}
	if !strings.Contains(rec.Body.String(), testMemberID) {
		t.Error("snapshot should carry the open session", rec.Body.String())
	}
	if core.Hub.SubscriberCount() != 0 {
		t.Error("handler exit should deregister the subscriber", core.Hub.SubscriberCount())
	}
}
