package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// ServeUpload serves a stored notice file. The content type is sniffed from
// the file itself rather than trusted from the upload's name.
func (h *Handlers) ServeUpload(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filepath"), "/")

	f, err := h.blobs.Open(h.opts.UploadPrefix + "/" + name)
	if err != nil {
		if !errors.Is(err, blobstore.ErrBlobNotFound) && !errors.Is(err, blobstore.ErrInvalidPath) {
			logger.Error("Failed to open upload %q: %v", name, err)
		}
		utils.ProblemNotFound(c, "File")
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("Failed to close upload %q: %v", name, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		utils.ProblemInternalServer(c, "Failed to read file")
		return
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		utils.ProblemInternalServer(c, "Failed to read file")
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		utils.ProblemInternalServer(c, "Failed to read file")
		return
	}

	c.Header("Content-Type", mtype.String())
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
