package controllers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/econexo/backend/internal/cctx"
)

const sessionCookieName = "econexo_session"

// sessionIssuer mints and verifies the anonymous session cookie that
// identifies a visitor across requests. The session id doubles as the room
// participant id; there is no account system behind it.
type sessionIssuer struct {
	key    paseto.V4AsymmetricSecretKey
	parser paseto.Parser
}

func (s *sessionIssuer) init(secret string) {
	var err error
	if s.key, err = loadPasetoPrivateKey(secret); err != nil {
		zap.L().Error("failed to decode session private key, using random key", zap.Error(err))
		s.key = paseto.NewV4AsymmetricSecretKey()
	}

	s.parser = paseto.MakeParser([]paseto.Rule{
		paseto.IssuedBy("econexo"),
		paseto.NotExpired(),
	})
}

// wrap ensures the request carries a valid session cookie, minting one when
// needed, and exposes the session id through the request context.
func (s *sessionIssuer) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, newHeader, err := s.getOrCreateSessionCookie(r)
		if err != nil {
			zap.L().Error("failed to get session cookie", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		for k, vs := range newHeader {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}

		next(w, r.WithContext(cctx.WithValues(r.Context(), cctx.SessionID, sid)))
	}
}

func (s *sessionIssuer) getOrCreateSessionCookie(r *http.Request) (sid string, newHeader http.Header, err error) {
	var token *paseto.Token

	// Try to get the cookie value
	var cookie *http.Cookie
	if cookie, err = r.Cookie(sessionCookieName); errors.Is(err, http.ErrNoCookie) {
		err = nil
	} else if err == nil {
		token, err = s.parser.ParseV4Public(s.key.Public(), cookie.Value, nil)
		if err != nil {
			zap.L().Debug("invalid token", zap.Error(err))
		}

		// Ignore
		err = nil
	} else {
		// Propagate error
		return
	}

	// Attempt to get existing SID
	if token != nil {
		if sid, err = token.GetSubject(); err != nil {
			zap.L().Debug("failed to get sid from token", zap.Error(err))
		}
	}

	// Generate brand new SID if it's still empty
	if sid == "" {
		sid = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	// Create new token
	now := time.Now()
	expiresAt := now.Add(24 * time.Hour)
	token = newToken()
	token.SetIssuer("econexo")
	token.SetExpiration(expiresAt)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetSubject(sid)
	token.SetAudience("user")

	cookie = &http.Cookie{
		Name:     sessionCookieName,
		Value:    token.V4Sign(s.key, nil),
		Path:     "/",
		Expires:  expiresAt.Add(24 * time.Hour), // XXX: Add 24 hours to work around time zones, because cookies suck. Best effort
		MaxAge:   24 * 60 * 60,
		SameSite: http.SameSiteNoneMode,
		HttpOnly: true,
		Secure:   true,
	}

	if err = cookie.Valid(); err != nil {
		return
	}

	newHeader = make(http.Header)
	newHeader.Add("Set-Cookie", cookie.String())
	return
}

func loadPasetoPrivateKey(sessionSecret string) (key paseto.V4AsymmetricSecretKey, err error) {
	var decoded []byte
	if decoded, err = base64.StdEncoding.DecodeString(sessionSecret); err != nil {
		return
	}

	return paseto.NewV4AsymmetricSecretKeyFromBytes(decoded)
}

// XXX: paseto library is silly
func newToken() *paseto.Token {
	t := paseto.NewToken()
	return &t
}
