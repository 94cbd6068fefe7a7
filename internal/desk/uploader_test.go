package desk

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labelhub/supportdesk/internal/errs"
)

func imageFile(name string, size int64) File {
	return File{
		Name:        name,
		ContentType: "image/png",
		Size:        size,
		Content:     bytes.NewReader(make([]byte, size)),
	}
}

func TestUploadSizeBoundary(t *testing.T) {
	transport := newFakeTransport()
	u := NewUploader(transport, 0)
	require.Equal(t, int64(10<<20), u.MaxBytes())

	res := u.Upload(context.Background(), []File{
		imageFile("exact.png", DefaultMaxUploadBytes),
		imageFile("over.png", DefaultMaxUploadBytes+1),
		imageFile("small.png", 10),
	})

	require.Equal(t, []string{"https://cdn.test/exact.png", "https://cdn.test/small.png"}, res.URLs)
	require.Len(t, res.Rejections, 1)
	require.Equal(t, "over.png", res.Rejections[0].Name)

	var verr *errs.ValidationError
	require.ErrorAs(t, res.Rejections[0].Err, &verr)
	require.Contains(t, verr.Error(), "10 MB")
	require.Equal(t, 2, transport.count("upload"), "rejected files are never sent")
}

func TestUploadRejectsNonImages(t *testing.T) {
	u := NewUploader(newFakeTransport(), 1024)

	tests := []struct {
		name        string
		contentType string
		ok          bool
	}{
		{name: "png", contentType: "image/png", ok: true},
		{name: "with params", contentType: "image/jpeg; charset=binary", ok: true},
		{name: "pdf", contentType: "application/pdf"},
		{name: "empty", contentType: ""},
		{name: "garbage", contentType: "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := u.Validate(File{Name: "f", ContentType: tt.contentType, Size: 1, Content: bytes.NewReader([]byte{1})})
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestUploadTransportFailureIsPerFile(t *testing.T) {
	transport := newFakeTransport()
	transport.uploadErr["b.png"] = &errs.TransientError{Op: "upload", Status: 502}
	u := NewUploader(transport, 0)

	res := u.Upload(context.Background(), []File{imageFile("a.png", 1), imageFile("b.png", 1), imageFile("c.png", 1)})
	require.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/c.png"}, res.URLs)
	require.Len(t, res.Rejections, 1)
	require.True(t, errs.IsTransient(res.Rejections[0].Err))
	require.Len(t, res.Messages(), 1)
}
