package route

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func Auth(muxer *http.ServeMux, as *utils.AppState) {
	// logout
	muxer.HandleFunc("DELETE /auth", func(w http.ResponseWriter, r *http.Request) {
		if sessionCookie, err := r.Cookie(SessionSecretCookieName); err == nil {
			if _, err := as.BunDB.
				NewDelete().
				Model((*model.AuthToken)(nil)).
				Where("secret = ?", sessionCookie.Value).
				Where("purpose = ?", model.AUTH_TOKEN_PURPOSE_SESSION).
				Exec(r.Context()); err != nil {
				writeError(w, http.StatusInternalServerError, "can't delete session")
				return
			}
		}
		w.Header().Set("Set-Cookie", SessionSecretCookieName+"=; Path=/; HttpOnly; SameSite=Lax; Max-Age=0")
		w.WriteHeader(http.StatusNoContent)
	})

	type AuthReqBody struct {
		TempKey string `json:"tempKey"`
	}

	// exchange the one-time key from the bot's /login command for a
	// session cookie
	muxer.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		var reqBody AuthReqBody
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil || reqBody.TempKey == "" {
			writeError(w, http.StatusBadRequest, "tempKey required")
			return
		}

		newSessionSecret := uuid.NewString()
		allowThrough := false
		err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			tempTokenModel := new(model.AuthToken)
			if err := tx.
				NewSelect().
				Model(tempTokenModel).
				Where("secret = ?", reqBody.TempKey).
				Where("purpose = ?", model.AUTH_TOKEN_PURPOSE_TEMP).
				Scan(ctx); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					writeError(w, http.StatusUnauthorized, "invalid temp key")
					return nil
				}
				writeError(w, http.StatusInternalServerError, "can't check temp key")
				return fmt.Errorf("can't check temp key: %w", err)
			}

			// one-time use, delete right away
			if _, err := tx.
				NewDelete().
				Model((*model.AuthToken)(nil)).
				Where("secret = ?", reqBody.TempKey).
				Where("purpose = ?", model.AUTH_TOKEN_PURPOSE_TEMP).
				Exec(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, "can't delete temp key")
				return fmt.Errorf("can't delete temp key: %w", err)
			}

			if tempTokenModel.Expired(time.Now()) {
				writeError(w, http.StatusUnauthorized, "temp key expired")
				return nil
			}

			if _, err := tx.
				NewInsert().
				Model(&model.AuthToken{
					Secret:    newSessionSecret,
					Purpose:   model.AUTH_TOKEN_PURPOSE_SESSION,
					MemberID:  tempTokenModel.MemberID,
					CreatedAt: time.Now(),
				}).
				Exec(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, "can't insert session token")
				return fmt.Errorf("can't insert session token: %w", err)
			}
			allowThrough = true
			return nil
		})
		switch {
		case err != nil:
			return
		case !allowThrough:
			return
		}

		switch as.Config.GetDev() {
		case true:
			writeJSON(w, http.StatusOK, map[string]string{"sessionSecret": newSessionSecret})
		case false:
			w.Header().Set("Set-Cookie", SessionSecretCookieName+"="+newSessionSecret+"; Path=/; HttpOnly; SameSite=Lax")
			w.WriteHeader(http.StatusOK)
		}
	})

	// who am I; 200 with authed:false instead of a 401 so the web
	// client can render a login button without special-casing
	muxer.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		memberModel, handled := memberFromCookie(as, w, r)
		if handled {
			return
		}
		if memberModel == nil {
			writeJSON(w, http.StatusOK, map[string]any{"authed": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authed": true,
			"user":   dtoMember(memberModel),
		})
	})
}
