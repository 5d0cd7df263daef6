package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"vectra-insight/internal/app"
	"vectra-insight/internal/transport/http/response"
)

type OAuthHandler struct {
	oauthService *app.OAuthService
	frontendURL  string
}

func NewOAuthHandler(oauthService *app.OAuthService, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		frontendURL:  frontendURL,
	}
}

// GoogleLogin redirects the browser to the Google consent page.
func (h *OAuthHandler) GoogleLogin(c *gin.Context) {
	loginURL, _, err := h.oauthService.LoginURL()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "start google login failed")
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, loginURL)
}

// GoogleCallback completes the OAuth flow and redirects back to the frontend
// with the token, display name and fresh chat id in the query string.
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	code := c.Query("code")
	result, err := h.oauthService.HandleCallback(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, app.ErrGoogleAuth) || errors.Is(err, app.ErrInvalidInput) {
			c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/login?error=google-auth-failed")
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "google login failed")
		return
	}

	query := url.Values{}
	query.Set("name", result.User.Name)
	query.Set("chatId", fmt.Sprintf("%d", result.ChatID))
	query.Set("token", result.Token)
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/oauth-success?"+query.Encode())
}
