package telephony

import (
	"context"
	"errors"
	"net/http"

	"voice-receptionist/internal/auth"
	"voice-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ConversationEngine is the call orchestrator as seen from the webhook edge.
// It always produces a response; errors from HandleStatus and Audio are for
// logging and status codes only.
type ConversationEngine interface {
	HandleInbound(ctx context.Context, in InboundCall) VoiceResponse
	HandleSpeech(ctx context.Context, res SpeechResult) VoiceResponse
	HandleStatus(ctx context.Context, u StatusUpdate) error
	Audio(ctx context.Context, token string) ([]byte, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types, delegates
// to the engine, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Engine ConversationEngine
	Render RenderOptions
}

const failureLine = "I'm sorry, there was an error. Goodbye."

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	in, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	h.writeTwiML(c, h.Engine.HandleInbound(c.Request.Context(), in))
}

func (h TwilioWebhookHandler) HandleGather(c *gin.Context) {
	log := logger.FromGin(c)

	res, err := ParseTwilioGather(c.Request)
	if err != nil {
		log.Warn("twilio gather webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	h.writeTwiML(c, h.Engine.HandleSpeech(c.Request.Context(), res))
}

// HandleStatus always acknowledges; finalization failures are logged.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	u, err := ParseTwilioStatus(c.Request)
	if err != nil {
		log.Warn("twilio status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if err := h.Engine.HandleStatus(c.Request.Context(), u); err != nil {
		log.Error("call status handling failed", "status", u.Status, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h TwilioWebhookHandler) HandleAudio(c *gin.Context) {
	log := logger.FromGin(c)

	token := c.Query("token")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing token"})
		return
	}

	audio, err := h.Engine.Audio(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidMediaToken) {
			log.Warn("media token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			return
		}
		log.Error("audio unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "audio unavailable"})
		return
	}

	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, res VoiceResponse) {
	twiml, err := RenderTwiML(res, h.Render)
	if err != nil {
		// The caller is live; never leave the line without instructions.
		logger.FromGin(c).Error("twiml render failed", "kinds", res.Kinds(), "err", err)
		twiml, err = RenderTwiML(*NewResponse().Say(failureLine).Hangup(), h.Render)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
			return
		}
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
