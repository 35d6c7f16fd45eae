package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ringtalk/internal/service/call"
	"ringtalk/internal/service/directory"
)

// maxAudioBytes caps one uploaded recording.
const maxAudioBytes = 10 << 20 // 10 MB

// Handler wires HTTP routes to the user directory and the call lifecycle.
type Handler struct {
	users *directory.Service
	calls *call.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(users *directory.Service, calls *call.Service) *Handler {
	return &Handler{users: users, calls: calls}
}

// RegisterRoutes attaches all HTTP routes to the router. Paths match the
// ones the mobile client already calls.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/create_user", h.createUser)
	router.POST("/start_call", h.startCall)
	router.POST("/process_audio", h.processAudio)
	router.POST("/process_practice", h.processPractice)
	router.GET("/users/:id", h.getUser)
	router.GET("/calls/:id", h.getCall)
}

type createUserRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	DNDStart    string  `json:"dnd_start"`
	DNDEnd      string  `json:"dnd_end"`
	DeviceToken *string `json:"device_token"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), directory.Profile{
		Username:    req.Username,
		Email:       req.Email,
		DNDStart:    req.DNDStart,
		DNDEnd:      req.DNDEnd,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID})
}

type startCallRequest struct {
	UserID   string `json:"user_id"`
	Scenario string `json:"scenario"`
}

func (h *Handler) startCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	result, err := h.calls.StartCall(c.Request.Context(), req.UserID, req.Scenario)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		case errors.Is(err, call.ErrGeneration):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "response generation unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "start call failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"conversation_id":      result.Session.ID,
		"initial_ai_text":      result.OpeningText,
		"initial_ai_audio_url": result.AudioRef,
	})
}

func (h *Handler) processAudio(c *gin.Context) {
	convID := strings.TrimSpace(c.PostForm("conv_id"))
	if convID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conv_id is required"})
		return
	}
	audio, ok := h.readAudio(c)
	if !ok {
		return
	}

	result, err := h.calls.ProcessAudio(c.Request.Context(), convID, audio)
	if err != nil {
		switch {
		case errors.Is(err, call.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		case errors.Is(err, call.ErrTranscription), errors.Is(err, call.ErrGeneration):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice services unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "process audio failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_text":    result.UserText,
		"ai_text":      result.AIText,
		"ai_audio_url": result.AudioRef,
	})
}

func (h *Handler) processPractice(c *gin.Context) {
	correction := strings.TrimSpace(c.PostForm("correction_text"))
	if correction == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correction_text is required"})
		return
	}
	audio, ok := h.readAudio(c)
	if !ok {
		return
	}

	matched, heard, err := h.calls.CheckPronunciation(c.Request.Context(), audio, correction)
	if err != nil {
		if errors.Is(err, call.ErrTranscription) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "process practice failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matched":    matched,
		"heard_text": heard,
	})
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get user failed"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getCall(c *gin.Context) {
	session, turns, err := h.calls.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, call.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get conversation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": session,
		"turns":        turns,
	})
}

// readAudio pulls the uploaded recording out of the multipart form. It
// answers the request itself on failure.
func (h *Handler) readAudio(c *gin.Context) ([]byte, bool) {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return nil, false
	}
	if fileHeader.Size > maxAudioBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
		return nil, false
	}
	audio, err := readAll(fileHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read audio failed"})
		return nil, false
	}
	return audio, true
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxAudioBytes))
}
