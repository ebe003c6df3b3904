package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/media"
)

func readForm(mf *multipart.Form) (*media.Form, error) {
	form := &media.Form{Values: mf.Value}
	for field, headers := range mf.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, err
			}
			ct := fh.Header.Get("Content-Type")
			if ct == "" {
				ct = http.DetectContentType(data)
			}
			form.Files = append(form.Files, media.File{Field: field, Filename: fh.Filename, ContentType: ct, Data: data})
		}
	}
	return form, nil
}

// POST /upload-metadata (multipart/form-data)
func (s *Server) uploadMetadata(c *fiber.Ctx) error {
	if s.Uploader == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "metadata upload not configured")
	}
	mf, err := c.MultipartForm()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "multipart form required")
	}
	form, err := readForm(mf)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "cannot read form file")
	}

	out, err := s.Uploader.Upload(c.UserContext(), form)
	if err != nil {
		var ue *media.UpstreamError
		if errors.As(err, &ue) {
			s.log.Warnw("ipfs upload rejected", "status", ue.Status)
			return jsonError(c, ue.Status, ue.Error())
		}
		s.log.Errorw("ipfs upload failed", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "Internal server error")
	}
	return c.JSON(out)
}
