package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jukezispilled/lockd/internal/httpclient"
	"go.uber.org/zap"
)

const imageField = "file"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UpstreamError is a non-2xx answer from the IPFS endpoint.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string { return "IPFS upload failed: " + e.Body }

type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Form is a parsed multipart form, detached from the request that carried it.
type Form struct {
	Values map[string][]string
	Files  []File
}

type Uploader struct {
	http      *httpclient.Client
	uploadURL string
	store     ObjectStore
	width     int
	log       *zap.SugaredLogger
}

// NewUploader forwards metadata forms to uploadURL. store may be nil, in
// which case no thumbnail is mirrored.
func NewUploader(hc *httpclient.Client, uploadURL string, store ObjectStore, width int, log *zap.SugaredLogger) *Uploader {
	return &Uploader{http: hc, uploadURL: uploadURL, store: store, width: width, log: log}
}

// Upload re-encodes form, posts it upstream and returns the upstream JSON.
func (u *Uploader) Upload(ctx context.Context, form *Form) (map[string]any, error) {
	body, contentType, err := encode(form)
	if err != nil {
		return nil, err
	}
	resp, err := u.http.Do(ctx, http.MethodPost, u.uploadURL, http.Header{"Content-Type": {contentType}}, body)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, &UpstreamError{Status: se.StatusCode, Body: string(se.Body)}
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(resp.Body)}
	}

	out := map[string]any{}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode ipfs response: %w", err)
	}
	if u.store != nil {
		if url, ok := u.mirror(ctx, form); ok {
			out["thumbnailUrl"] = url
		}
	}
	return out, nil
}

func (u *Uploader) mirror(ctx context.Context, form *Form) (string, bool) {
	for _, f := range form.Files {
		if f.Field != imageField || !strings.HasPrefix(f.ContentType, "image/") {
			continue
		}
		thumb, err := Thumbnail(f.Data, u.width)
		if err != nil {
			u.log.Warnw("thumbnail failed", "filename", f.Filename, "error", err)
			return "", false
		}
		key := "token-images/" + uuid.NewString() + ".jpg"
		url, err := u.store.Upload(ctx, key, "image/jpeg", thumb)
		if err != nil {
			u.log.Warnw("thumbnail upload failed", "key", key, "error", err)
			return "", false
		}
		return url, true
	}
	return "", false
}

func encode(form *Form) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(form.Values))
	for k := range form.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form.Values[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, f := range form.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.Field), quoteEscaper.Replace(f.Filename)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
