package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"chat-session/internal/composer"
	"chat-session/internal/storage"
)

const sniffLen = 512

// UploadHandler stores attachment bytes and returns the triplet a client then
// posts as a file message.
type UploadHandler struct {
	composer *composer.Composer
	uploader storage.Uploader
	maxSize  int64
}

func NewUploadHandler(comp *composer.Composer, uploader storage.Uploader, maxSize int64) *UploadHandler {
	return &UploadHandler{composer: comp, uploader: uploader, maxSize: maxSize}
}

// Upload accepts a multipart "file" field.
func (h *UploadHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.maxSize > 0 && fh.Size > h.maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	header = header[:n]

	fileType := composer.ClassifyUpload(header)
	key := h.composer.UploadPath(fh.Filename)
	body := io.MultiReader(bytes.NewReader(header), f)

	url, err := h.uploader.Upload(c.Request.Context(), key, body, fh.Size, mimetype.Detect(header).String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"url":  url,
		"name": fh.Filename,
		"size": fh.Size,
		"type": fileType,
	})
}
