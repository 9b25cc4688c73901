// Package upload implements the image upload pipeline: synchronous
// validation, a concurrent local decode that surfaces a preview as soon as
// it is ready, a remote storage attempt, and graceful degradation to a
// local-only representation when remote storage is unavailable.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/obs"
)

// Validation failures block the upload before any asynchronous work.
var (
	ErrNotImage = errors.New("file must be an image")
	ErrTooLarge = errors.New("image exceeds the size limit")
)

// Applier consumes preview and outcome updates. Implemented by the catalog
// orchestrator.
type Applier interface {
	BeginImageSelection(seq uint64)
	ApplyPreview(seq uint64, image string)
	ApplyOutcome(out model.UploadOutcome)
}

// Uploader submits images to remote storage. Implemented by the backend
// API client.
type Uploader interface {
	UploadProductImage(ctx context.Context, ur api.UploadRequest) (*api.UploadResult, error)
}

// Pipeline turns one validated selection into an UploadOutcome.
type Pipeline struct {
	uploader  Uploader
	applier   Applier
	projectID string
	maxBytes  int64
}

// NewPipeline wires the pipeline to its collaborators.
func NewPipeline(uploader Uploader, applier Applier, projectID string, maxBytes int64) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &Pipeline{uploader: uploader, applier: applier, projectID: projectID, maxBytes: maxBytes}
}

// Validate enforces the selection preconditions: an image media type and a
// size within the limit. Runs before any upload work; a violation performs
// no side effects.
func (p *Pipeline) Validate(contentType string, size int64) error {
	if !strings.HasPrefix(contentType, "image/") {
		return ErrNotImage
	}
	if size > p.maxBytes {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrTooLarge, size, p.maxBytes)
	}
	return nil
}

// Begin registers a new selection sequence with the applier.
func (p *Pipeline) Begin(seq uint64) { p.applier.BeginImageSelection(seq) }

// Process runs one upload job to completion. The local decode races the
// remote call: the preview is applied the moment it is ready, and the final
// outcome when the upload resolves. Neither branch is cancelable.
func (p *Pipeline) Process(ctx context.Context, job Job) {
	localCh := make(chan string, 1)
	go func() {
		local := dataURI(job.ContentType, job.Data)
		p.applier.ApplyPreview(job.Sequence, local)
		localCh <- local
	}()

	res, err := p.uploader.UploadProductImage(ctx, api.UploadRequest{
		Data:        job.Data,
		Filename:    job.Filename,
		ContentType: job.ContentType,
		ProjectID:   p.projectID,
		UserID:      job.UserID,
		ProductName: job.ProductName,
	})
	local := <-localCh

	out := model.UploadOutcome{Sequence: job.Sequence}
	switch {
	case err != nil:
		out.Kind = model.OutcomeLocalFallback
		out.Image = local
		out.Message = "Upload failed: " + err.Error()
		obs.Logger.Error("upload_transport_failed", "sequence", job.Sequence, "error", err)
	case res.Success:
		fileID := res.FileID
		out.Kind = model.OutcomeRemote
		out.Image = res.ResolvedURL()
		out.FileID = &fileID
		obs.Logger.Info("upload_stored_remotely", "sequence", job.Sequence, "file_id", fileID)
	case res.NeedsConnection:
		out.Kind = model.OutcomeLocalFallback
		out.Image = local
		out.Message = "Google Drive not connected. Image saved locally."
		obs.Logger.Warn("upload_needs_connection", "sequence", job.Sequence)
	default:
		out.Kind = model.OutcomeLocalFallback
		out.Image = local
		if res.Error != "" {
			out.Message = "Upload failed: " + res.Error
		} else {
			out.Message = "Upload failed"
		}
		obs.Logger.Error("upload_rejected", "sequence", job.Sequence, "error", res.Error)
	}
	p.applier.ApplyOutcome(out)
}

func dataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
