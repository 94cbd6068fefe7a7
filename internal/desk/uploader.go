package desk

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/labelhub/supportdesk/internal/errs"
	"github.com/labelhub/supportdesk/internal/logging"
)

// DefaultMaxUploadBytes is the attachment size ceiling. A file of exactly
// this size is accepted.
const DefaultMaxUploadBytes int64 = 10 << 20

// File is one attachment candidate.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Rejection explains why a file was not uploaded.
type Rejection struct {
	Name string
	Err  error
}

// UploadResult is the outcome of a batch. URLs keep the input order of the
// accepted files.
type UploadResult struct {
	URLs       []string
	Rejections []Rejection
}

// Messages renders the rejections for display.
func (r UploadResult) Messages() []string {
	out := make([]string, 0, len(r.Rejections))
	for _, rej := range r.Rejections {
		out = append(out, errs.UserMessage(rej.Err))
	}
	return out
}

// Uploader validates attachments and uploads the accepted ones.
type Uploader struct {
	transport Transport
	maxBytes  int64
	logger    zerolog.Logger
}

// NewUploader creates an uploader. maxBytes <= 0 uses DefaultMaxUploadBytes.
func NewUploader(transport Transport, maxBytes int64) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Uploader{
		transport: transport,
		maxBytes:  maxBytes,
		logger:    logging.Component("upload"),
	}
}

// MaxBytes returns the size ceiling.
func (u *Uploader) MaxBytes() int64 { return u.maxBytes }

// Validate checks one file against the type and size rules.
func (u *Uploader) Validate(f File) error {
	name := displayName(f.Name)
	if !isImageType(f.ContentType) {
		return &errs.ValidationError{Item: name, Message: "only image files can be attached"}
	}
	if f.Size > u.maxBytes {
		return &errs.ValidationError{
			Item:    name,
			Message: fmt.Sprintf("file is larger than %s", humanize.Bytes(uint64(u.maxBytes))),
		}
	}
	if f.Content == nil {
		return &errs.ValidationError{Item: name, Message: "file has no content"}
	}
	return nil
}

// Upload uploads every valid file independently. Invalid files and failed
// uploads are reported as rejections; the batch never aborts.
func (u *Uploader) Upload(ctx context.Context, files []File) UploadResult {
	type outcome struct {
		url string
		err error
	}
	outcomes := make([]outcome, len(files))

	var wg sync.WaitGroup
	for i, f := range files {
		if err := u.Validate(f); err != nil {
			outcomes[i].err = err
			continue
		}
		wg.Add(1)
		go func(i int, f File) {
			defer wg.Done()
			url, err := u.transport.Upload(ctx, displayName(f.Name), f.ContentType, f.Content)
			if err == nil && strings.TrimSpace(url) == "" {
				err = &errs.TransientError{Op: "upload", Message: "server returned no url"}
			}
			outcomes[i] = outcome{url: url, err: err}
		}(i, f)
	}
	wg.Wait()

	var result UploadResult
	for i, o := range outcomes {
		if o.err != nil {
			u.logger.Debug().Err(o.err).Str("file", files[i].Name).Msg("attachment rejected")
			result.Rejections = append(result.Rejections, Rejection{Name: files[i].Name, Err: o.err})
			continue
		}
		result.URLs = append(result.URLs, o.url)
	}
	return result
}

func isImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "attachment"
}

