package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vectra-insight/internal/app"
	"vectra-insight/internal/pkg/pdfextract"
	"vectra-insight/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB per file

type ChatHandler struct {
	chatService *app.ChatService
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// UploadPDFs accepts a multipart form with repeated "pdfs" file fields plus
// optional persona, job and chat_id fields, and synchronizes the chat's file
// set with the submission.
func (h *ChatHandler) UploadPDFs(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	fileHeaders := form.File["pdfs"]
	if len(fileHeaders) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no PDF files uploaded")
		return
	}

	files := make([]app.UploadFile, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		if header.Size > maxPDFSize {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				"file too large (max 10MB): "+header.Filename)
			return
		}
		if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				"only PDF files are allowed: "+header.Filename)
			return
		}

		f, err := header.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}

		info, err := pdfextract.Inspect(content)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				"not a readable PDF: "+header.Filename)
			return
		}
		if strings.TrimSpace(info.Text) == "" {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				"PDF contains no extractable text: "+header.Filename)
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		files = append(files, app.UploadFile{
			Name:      header.Filename,
			Content:   content,
			MimeType:  mimeType,
			PageCount: info.PageCount,
		})
	}

	chatID, err := h.chatService.SyncFiles(c.Request.Context(), app.SyncFilesInput{
		UserID:  userID,
		ChatID:  parseUintForm(c, "chat_id"),
		Persona: c.PostForm("persona"),
		Job:     c.PostForm("job"),
		Files:   files,
	})
	if err != nil {
		h.writeChatError(c, err, "upload failed")
		return
	}

	response.OK(c, gin.H{"chat_id": chatID})
}

// Search runs a query against the chat's index and records the merged
// insight text. The persona param doubles as the query when no explicit
// query is given, matching the client's extract-insights flow.
func (h *ChatHandler) Search(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chatID64, err := strconv.ParseUint(c.Query("chat_id"), 10, 64)
	if err != nil || chatID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat_id")
		return
	}

	persona := c.Query("persona")
	query := c.Query("query")
	if query == "" {
		query = persona
	}

	threshold := 0.0
	if raw := c.Query("score_threshold"); raw != "" {
		if parsed, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			threshold = parsed
		}
	}

	fragments, err := h.chatService.Search(c.Request.Context(), app.SearchInput{
		UserID:         userID,
		ChatID:         uint(chatID64),
		Query:          query,
		Persona:        persona,
		ScoreThreshold: threshold,
	})
	if err != nil {
		h.writeChatError(c, err, "search failed")
		return
	}

	response.OK(c, gin.H{
		"search_results": fragments,
		"insights":       app.MergeFragments(fragments),
	})
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chat, err := h.chatService.StartNewChat(userID)
	if err != nil {
		h.writeChatError(c, err, "create chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chats, err := h.chatService.ListChats(userID)
	if err != nil {
		h.writeChatError(c, err, "list chats failed")
		return
	}
	response.OK(c, chats)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chatID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || chatID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}

	if err := h.chatService.DeleteChat(c.Request.Context(), userID, uint(chatID64)); err != nil {
		h.writeChatError(c, err, "delete chat failed")
		return
	}
	response.OK(c, gin.H{"deleted_chat_id": uint(chatID64)})
}

func (h *ChatHandler) writeChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDuplicateFile):
		response.Error(c, http.StatusConflict, response.CodeDuplicateFile, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	case errors.Is(err, app.ErrIndexUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func parseUintForm(c *gin.Context, key string) uint {
	s := c.PostForm(key)
	if s == "" {
		return 0
	}
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
