package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

const oauthStateCookie = "oauth_state"

func (s *Server) googleOAuthConfig() (*oauth2.Config, error) {
	if s.cfg.GoogleClientID == "" || s.cfg.GoogleClientSecret == "" || s.cfg.GoogleRedirectURL == "" {
		return nil, errors.New("Google OAuth not configured")
	}
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}, nil
}

func generateOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	config, err := s.googleOAuthConfig()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	state, err := generateOAuthState()
	if err != nil {
		respondCode(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	url := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	config, err := s.googleOAuthConfig()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	redirectWithError := func(errMsg string) {
		http.Redirect(w, r, s.cfg.SiteURL+"/auth/callback?error="+errMsg, http.StatusTemporaryRedirect)
	}

	// CSRF check: the state Google echoes back must match our cookie.
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		respondCode(w, http.StatusBadRequest, CodeInvalidInput, errors.New("invalid state parameter"))
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		redirectWithError("oauth_error")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		redirectWithError("missing_code")
		return
	}

	token, err := config.Exchange(r.Context(), code)
	if err != nil {
		redirectWithError("token_exchange_failed")
		return
	}

	userInfo, err := getGoogleUserInfo(r.Context(), config, token)
	if err != nil {
		redirectWithError("get_user_info_failed")
		return
	}
	if !userInfo.VerifiedEmail {
		redirectWithError("email_not_verified")
		return
	}

	user, isNewUser, err := s.svc.GetOrCreateUserByGoogleID(r.Context(), userInfo.ID, userInfo.Email, userInfo.Name)
	if err != nil {
		redirectWithError("create_user_failed")
		return
	}

	jwtToken, err := s.generateJWT(user.ID, user.Email)
	if err != nil {
		redirectWithError("token_generation_failed")
		return
	}

	isNewUserStr := "false"
	if isNewUser {
		isNewUserStr = "true"
	}
	http.Redirect(w, r, s.cfg.SiteURL+"/auth/callback?token="+jwtToken+"&is_new_user="+isNewUserStr, http.StatusTemporaryRedirect)
}

func getGoogleUserInfo(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*GoogleUserInfo, error) {
	client := config.Client(ctx, token)

	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, errors.New("failed to get user info: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("failed to get user info: unexpected status code")
	}

	var userInfo GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, errors.New("failed to decode user info: " + err.Error())
	}
	return &userInfo, nil
}
