package webapp

import (
	"errors"
	"html/template"
	"net/http"

	"inkframe/internal/core"
	"inkframe/internal/idgen"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Photo Frame Setup</title></head>
<body>
<h1>Photo Frame</h1>
{{if .Configured}}
<p>The frame is connected to your photo library and rotating photos.</p>
<p><a href="/auth">Reconnect a different account</a></p>
{{else}}
<p>The frame is not connected yet.</p>
<p><a href="/auth">Connect your photo library</a></p>
{{end}}
</body>
</html>`))

// getIndex shows the configuration status page
// GET /
func (s *Server) getIndex(c *gin.Context) {
	cred, err := s.store.Load(c.Request.Context())
	configured := err == nil && cred != nil
	if err != nil && !errors.Is(err, core.ErrNoCredential) {
		s.logger.Error("Failed to read credential for status page", "error", err)
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(c.Writer, gin.H{"Configured": configured}); err != nil {
		s.logger.Error("Failed to render status page", "error", err)
	}
}

// getHealth returns the health status of the service
// GET /health
func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "inkframe",
	})
}

// getAuth starts the OAuth consent flow
// GET /auth
func (s *Server) getAuth(c *gin.Context) {
	state := idgen.NewState()
	s.rememberState(state)

	// Offline access so the provider issues a refresh token; forcing the
	// consent prompt makes it reissue one after a reconnect
	url := s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	c.Redirect(http.StatusFound, url)
}

// getCallback finishes the OAuth flow and persists the credential
// GET /oauth2callback
func (s *Server) getCallback(c *gin.Context) {
	state := c.Query("state")
	if state == "" || !s.consumeState(state) {
		c.String(http.StatusBadRequest, "Authorization session expired. Start over from the home page.")
		return
	}

	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "Authorization was denied or the response is incomplete.")
		return
	}

	token, err := s.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		s.logger.Error("OAuth code exchange failed", "error", err)
		c.String(http.StatusBadGateway, "Could not complete authorization. Try again.")
		return
	}

	if err := s.store.SaveToken(c.Request.Context(), token); err != nil {
		s.logger.Error("Failed to persist credential", "error", err)
		c.String(http.StatusInternalServerError, "Could not save the authorization.")
		return
	}

	s.logger.Info("Authorization complete, credential stored")
	c.Redirect(http.StatusFound, "/")
}
