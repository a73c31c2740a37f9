package auth

import (
	"net/http"
	"strings"

	"voice-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhook requests that were not signed by the
// provider. publicBaseURL is the origin the provider was configured with; it
// is joined with the request URI so proxies and TLS termination do not change
// the signed URL.
func RequireTwilioSignature(v *SignatureValidator, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		fullURL := base + c.Request.URL.RequestURI()
		if err := v.Validate(fullURL, c.Request.PostForm, c.GetHeader(signatureHeader)); err != nil {
			logger.FromGin(c).Warn("provider signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
