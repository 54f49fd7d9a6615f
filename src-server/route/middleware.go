package route

import (
	"bytes"
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"
	"time"
)

type MemberCtxKeyType string

const (
	MemberCtxKey            MemberCtxKeyType = "member"
	SessionSecretCookieName string           = "session-secret"
	BotTokenHeaderName      string           = "X-Bot-Token"
	BotMemberHeaderName     string           = "X-Member-ID"
)

// AuthMiddleware resolves the acting member once at the boundary and
// stashes it in the request context: either an interactive session
// (session-secret cookie backed by an auth token row) or a
// bot-delegated call (X-Bot-Token plus a member id in header, query,
// or body). Core logic below the middleware never reaches for
// ambient identity.
func AuthMiddleware(as *utils.AppState, next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if memberModel, handled := memberFromCookie(as, w, r); handled {
			return
		} else if memberModel != nil {
			ctx := context.WithValue(r.Context(), MemberCtxKey, memberModel)
			next(w, r.WithContext(ctx))
			return
		}

		botApiKey := as.Config.GetBotApiKey()
		botToken := r.Header.Get(BotTokenHeaderName)
		if botApiKey != "" && botToken != "" {
			if subtle.ConstantTimeCompare([]byte(botToken), []byte(botApiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid bot token")
				return
			}

			memberID := resolveDelegatedMemberID(r)
			if memberID == "" {
				writeError(w, http.StatusBadRequest, "acting member id required")
				return
			}

			memberModel := new(model.Member)
			if err := as.BunDB.
				NewSelect().
				Model(memberModel).
				Where("id = ?", memberID).
				Scan(r.Context()); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					writeError(w, http.StatusNotFound, "member not found")
					return
				}
				slog.Error("can't look up delegated member", "error", err)
				writeError(w, http.StatusInternalServerError, "can't look up member")
				return
			}

			ctx := context.WithValue(r.Context(), MemberCtxKey, memberModel)
			next(w, r.WithContext(ctx))
			return
		}

		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}

// (member, handled): handled means a response was already written.
// A nil member with handled=false means "no cookie, try other means".
func memberFromCookie(as *utils.AppState, w http.ResponseWriter, r *http.Request) (*model.Member, bool) {
	sessionSecret := func() string {
		sessionCookie, err := r.Cookie(SessionSecretCookieName)
		if err == nil {
			return strings.TrimSpace(sessionCookie.Value)
		}
		return ""
	}()
	if sessionSecret == "" {
		return nil, false
	}

	tokenModel := new(model.AuthToken)
	if err := as.BunDB.
		NewSelect().
		Model(tokenModel).
		Where("secret = ?", sessionSecret).
		Where("purpose = ?", model.AUTH_TOKEN_PURPOSE_SESSION).
		Scan(r.Context()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "session not found")
			return nil, true
		}
		slog.Error("can't check if auth token exists in DB", "error", err)
		writeError(w, http.StatusInternalServerError, "can't check session")
		return nil, true
	}

	if tokenModel.Expired(time.Now()) {
		if _, err := as.BunDB.
			NewDelete().
			Model((*model.AuthToken)(nil)).
			Where("secret = ?", sessionSecret).
			Exec(r.Context()); err != nil {
			slog.Error("can't delete expired auth token", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "session expired")
		return nil, true
	}

	memberModel := new(model.Member)
	if err := as.BunDB.
		NewSelect().
		Model(memberModel).
		Where("id = ?", tokenModel.MemberID).
		Scan(r.Context()); err != nil {
		slog.Error("can't load member for session", "error", err)
		writeError(w, http.StatusInternalServerError, "can't load member")
		return nil, true
	}
	return memberModel, false
}

// header, then query, then JSON body. The body is restored so the
// handler can decode it again.
func resolveDelegatedMemberID(r *http.Request) string {
	if memberID := strings.TrimSpace(r.Header.Get(BotMemberHeaderName)); memberID != "" {
		return memberID
	}
	if memberID := strings.TrimSpace(r.URL.Query().Get("member")); memberID != "" {
		return memberID
	}
	if r.Body == nil {
		return ""
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var body struct {
		MemberID string `json:"memberId"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.MemberID)
}

// ExecMiddleware gates the admin surface; chain it inside
// AuthMiddleware.
func ExecMiddleware(next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		memberModel, ok := r.Context().Value(MemberCtxKey).(*model.Member)
		if !ok {
			writeError(w, http.StatusInternalServerError, "can't get member from middleware")
			return
		}
		if !memberModel.IsExec {
			writeError(w, http.StatusUnauthorized, "not exec")
			return
		}
		next(w, r)
	}
}
