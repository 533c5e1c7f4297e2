package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/utils"
	"github.com/microinsure/poolregistry/pkg/wallet"
	"go.uber.org/zap"
)

type accountKey struct{}

type sessionRequest struct {
	Account string `json:"account"`
}

type sessionResponse struct {
	Account   string `json:"account"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// HandleSession connects a wallet: it validates the address and issues a
// session cookie. Posting another account replaces the session.
func (c *Controller) HandleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil {
		c.writeError(w, sentinel.Validation(err.Error()))
		return
	}
	token, account, err := c.App.Sessions.Issue(req.Account)
	if err != nil {
		c.writeError(w, err)
		return
	}

	ttl := c.App.Sessions.TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     wallet.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.App.Config.Production,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
	c.App.Logger.Info("Wallet connected", zap.String("account", account))
	writeJSON(w, http.StatusOK, sessionResponse{Account: account, Token: token, ExpiresIn: int64(ttl.Seconds())})
}

// HandleLogout disconnects the wallet.
func (c *Controller) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     wallet.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.App.Config.Production,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// RequireAccount middleware resolves the connected account from a Bearer
// token or the session cookie on every request.
func (c *Controller) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := c.App.Sessions.Account(sessionToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Please connect wallet first"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

func sessionToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	if cookie, err := r.Cookie(wallet.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func accountFrom(ctx context.Context) (string, error) {
	account, _ := ctx.Value(accountKey{}).(string)
	if account == "" {
		return "", errors.New("no account in request context")
	}
	return account, nil
}
