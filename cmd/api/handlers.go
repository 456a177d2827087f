package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PaulBabatuyi/marketchat/internal/chat"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
	"github.com/PaulBabatuyi/marketchat/internal/presence"
	"github.com/PaulBabatuyi/marketchat/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPartnerLimit = 200

// multipartOverhead is allowed on top of uploads.max_bytes for form fields
// and part headers.
const multipartOverhead = 1 << 20

var errFileTooLarge = errors.New("file exceeds the upload limit")

// writeError maps domain errors to HTTP responses. Internal details are
// logged, never returned.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	default:
		_ = c.Error(err)
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// senderAllowed rejects writes on behalf of someone other than the token holder.
func senderAllowed(c *gin.Context, sender string) bool {
	claims, ok := middleware.ClaimsFrom(c)
	return !ok || normalize.Email(sender) == claims.Email
}

// getConversation handles GET /messages/:userA/:userB.
func (s *Server) getConversation(c *gin.Context) {
	a, b := normalize.Email(c.Param("userA")), normalize.Email(c.Param("userB"))
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "both participants are required"})
		return
	}

	msgs, err := s.store.GetConversation(c.Request.Context(), a, b)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// sendMessage handles POST /messages/send. The message is routed like a live
// send, so connected participants receive it immediately.
func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if !senderAllowed(c, req.Sender) {
		c.JSON(http.StatusForbidden, gin.H{"error": "sender does not match authenticated identity"})
		return
	}

	saved, err := s.router.Send(c.Request.Context(), chat.Draft{
		SenderEmail:   req.Sender,
		ReceiverEmail: req.Receiver,
		Type:          data.TypeText,
		Text:          req.Content,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func uploadError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

// uploadFile handles POST /upload: stores the file, records a file message
// and notifies both participants.
func (s *Server) uploadFile(c *gin.Context) {
	maxBytes := s.cfg.Uploads.MaxBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	sender := normalize.Email(c.PostForm("senderEmail"))
	receiver := normalize.Email(c.PostForm("receiverEmail"))

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			uploadError(c, http.StatusRequestEntityTooLarge, errFileTooLarge.Error())
			return
		}
		uploadError(c, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	switch {
	case header.Size > maxBytes:
		uploadError(c, http.StatusRequestEntityTooLarge, errFileTooLarge.Error())
		return
	case sender == "":
		uploadError(c, http.StatusBadRequest, "senderEmail is required")
		return
	case receiver == "":
		uploadError(c, http.StatusBadRequest, "receiverEmail is required")
		return
	case !senderAllowed(c, sender):
		uploadError(c, http.StatusForbidden, "sender does not match authenticated identity")
		return
	}

	contentType := header.Header.Get("Content-Type")
	url, err := s.files.Put(c.Request.Context(), storage.Object{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.log.Error("store upload failed", zap.String("name", header.Filename), zap.Error(err))
		uploadError(c, http.StatusInternalServerError, "failed to store file")
		return
	}

	saved, err := s.router.Send(c.Request.Context(), chat.Draft{
		SenderEmail:   sender,
		ReceiverEmail: receiver,
		Type:          data.TypeFile,
		FileURL:       url,
		OriginalName:  header.Filename,
		MimeType:      contentType,
	})
	if err != nil {
		s.discardUpload(c.Request.Context(), url)
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			uploadError(c, http.StatusBadRequest, verr.Error())
			return
		}
		s.log.Error("record upload failed", zap.String("url", url), zap.Error(err))
		uploadError(c, http.StatusInternalServerError, "failed to record file message")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": saved})
}

// discardUpload removes a stored file no message points at. A failed removal
// is logged with the URL so the object can be cleaned up by hand.
func (s *Server) discardUpload(ctx context.Context, url string) {
	if err := s.files.Delete(context.WithoutCancel(ctx), url); err != nil {
		s.log.Warn("orphaned upload", zap.String("url", url), zap.Error(err))
	}
}

// listConversations handles GET /conversations/:email?limit=N.
func (s *Server) listConversations(c *gin.Context) {
	email := normalize.Email(c.Param("email"))
	limit := int64(data.DefaultPartnerLimit)
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPartnerLimit)
	}

	partners, err := s.store.GetRecentChats(c.Request.Context(), email, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, partners)
}

// getPresence handles GET /presence/:email.
func (s *Server) getPresence(c *gin.Context) {
	email := normalize.Email(c.Param("email"))
	c.JSON(http.StatusOK, presence.Status{Email: email, IsOnline: s.registry.IsOnline(email)})
}

// listOnline handles GET /presence.
func (s *Server) listOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": s.registry.Online()})
}
