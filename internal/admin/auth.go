package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

const basicAuthRealm = `Basic realm="Port Forwarder ACE"`

// basicAuth is the admin plane's authentication middleware: when no
// credentials are configured, every request is accepted as anonymous;
// otherwise a missing or invalid Authorization header is rejected with
// 401 and the realm string above.
func basicAuth(creds *libfwd.BasicAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if creds == nil || (creds.Username == "" && creds.Password == "") {
			c.Next()
			return
		}

		user, pass, ok := c.Request.BasicAuth()
		if !ok || !credsMatch(user, pass, creds) {
			c.Header("WWW-Authenticate", basicAuthRealm)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Next()
	}
}

func credsMatch(user, pass string, creds *libfwd.BasicAuth) bool {
	okUser := subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) == 1
	okPass := subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) == 1
	return okUser && okPass
}
