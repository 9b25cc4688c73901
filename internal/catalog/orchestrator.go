package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/notify"
	"github.com/fairyhunter13/storefront-console/internal/obs"
)

var (
	ErrNameRequired    = errors.New("product name is required")
	ErrInvalidPrice    = errors.New("price must be a non-negative number")
	ErrProductNotFound = errors.New("product not found")
)

// RemoteCleaner removes remotely stored images. Implemented by the backend
// API client.
type RemoteCleaner interface {
	DeleteProductImage(ctx context.Context, projectID, fileID string) error
}

// FormUpdate carries partial edits to the form; nil fields are untouched.
type FormUpdate struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	Price              *string `json:"price"`
	Category           *string `json:"category"`
	InStock            *bool   `json:"in_stock"`
	ExternalPaymentURL *string `json:"external_payment_url"`
}

// Orchestrator applies add/update/delete operations to the store, owns the
// transient form state, and consumes upload outcomes. The image and the
// remote-file reference in the form are always written together so they can
// never disagree.
type Orchestrator struct {
	mu        sync.Mutex
	form      model.FormState
	editingID string
	// latest issued upload sequence; only its outcome may touch the form
	lastSeq uint64

	store     *Store
	notifier  *notify.Notifier
	cleaner   RemoteCleaner
	projectID string
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(store *Store, notifier *notify.Notifier, cleaner RemoteCleaner, projectID string) *Orchestrator {
	return &Orchestrator{
		form:      model.DefaultForm(),
		store:     store,
		notifier:  notifier,
		cleaner:   cleaner,
		projectID: projectID,
	}
}

// Form returns a copy of the form state and the id being edited, if any.
func (o *Orchestrator) Form() (model.FormState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.form, o.editingID
}

// SetForm applies a partial form update.
func (o *Orchestrator) SetForm(u FormUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if u.Name != nil {
		o.form.Name = *u.Name
	}
	if u.Description != nil {
		o.form.Description = *u.Description
	}
	if u.Price != nil {
		o.form.Price = *u.Price
	}
	if u.Category != nil {
		o.form.Category = *u.Category
	}
	if u.InStock != nil {
		o.form.InStock = *u.InStock
	}
	if u.ExternalPaymentURL != nil {
		o.form.ExternalPaymentURL = *u.ExternalPaymentURL
	}
}

// BeginImageSelection records seq as the most recent selection. Outcomes of
// earlier selections are ignored from now on.
func (o *Orchestrator) BeginImageSelection(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq > o.lastSeq {
		o.lastSeq = seq
	}
}

// ApplyPreview surfaces the locally decoded image as soon as it is ready,
// regardless of upload progress. The remote-file reference is cleared with
// it: a preview is by definition not remotely stored.
func (o *Orchestrator) ApplyPreview(seq uint64, image string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.lastSeq {
		return
	}
	o.form.Image = image
	o.form.DriveFileID = nil
}

// ApplyOutcome installs an upload outcome into the form, image and file
// reference together, and reports it. Stale outcomes are dropped.
func (o *Orchestrator) ApplyOutcome(out model.UploadOutcome) {
	o.mu.Lock()
	if out.Sequence != o.lastSeq {
		o.mu.Unlock()
		obs.Logger.Debug("upload_outcome_stale", "sequence", out.Sequence)
		return
	}
	o.form.Image = out.Image
	o.form.DriveFileID = out.FileID
	o.mu.Unlock()

	switch out.Kind {
	case model.OutcomeRemote:
		o.notifier.Success("Image uploaded to cloud!")
	default:
		o.notifier.Error(out.Message)
	}
}

// Submit coerces and validates the form, then updates the edited product or
// appends a new one. The form resets afterwards.
func (o *Orchestrator) Submit() (model.Product, error) {
	o.mu.Lock()
	form := o.form
	editingID := o.editingID
	o.mu.Unlock()

	if strings.TrimSpace(form.Name) == "" {
		return model.Product{}, ErrNameRequired
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(form.Price), 64)
	if err != nil || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return model.Product{}, ErrInvalidPrice
	}

	p := model.Product{
		ID:          editingID,
		Name:        form.Name,
		Description: form.Description,
		Price:       price,
		Category:    form.Category,
		Image:       form.Image,
		InStock:     form.InStock,
		DriveFileID: form.DriveFileID,
	}
	if v := strings.TrimSpace(form.ExternalPaymentURL); v != "" {
		p.ExternalPaymentURL = &v
	}

	action := "added"
	if editingID != "" {
		if !o.store.Update(p) {
			return model.Product{}, ErrProductNotFound
		}
		action = "updated"
	} else {
		p.ID = uuid.NewString()
		o.store.Add(p)
	}

	o.resetForm()
	o.notifier.Success(fmt.Sprintf("Product %s successfully!", action))
	obs.Logger.Info("product_submitted", "product_id", p.ID, "action", action)
	return p, nil
}

// StartEdit pre-fills the form from an existing product and enters edit
// mode for its id. The product itself is untouched until Submit.
func (o *Orchestrator) StartEdit(id string) error {
	p, ok := o.store.Get(id)
	if !ok {
		return ErrProductNotFound
	}
	payURL := ""
	if p.ExternalPaymentURL != nil {
		payURL = *p.ExternalPaymentURL
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editingID = p.ID
	o.form = model.FormState{
		Name:               p.Name,
		Description:        p.Description,
		Price:              strconv.FormatFloat(p.Price, 'f', -1, 64),
		Image:              p.Image,
		Category:           p.Category,
		InStock:            p.InStock,
		DriveFileID:        p.DriveFileID,
		ExternalPaymentURL: payURL,
	}
	return nil
}

// CancelEdit leaves edit mode and resets the form to defaults.
func (o *Orchestrator) CancelEdit() {
	o.resetForm()
}

func (o *Orchestrator) resetForm() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.form = model.DefaultForm()
	o.editingID = ""
	o.lastSeq = 0
}

// Delete removes a product. If it carries a remote-file reference the
// remote delete is attempted first; its outcome is recorded but the local
// removal happens unconditionally.
func (o *Orchestrator) Delete(ctx context.Context, id string) (model.Product, error) {
	p, ok := o.store.Get(id)
	if !ok {
		return model.Product{}, ErrProductNotFound
	}
	if p.DriveFileID != nil && o.cleaner != nil {
		if err := o.cleaner.DeleteProductImage(ctx, o.projectID, *p.DriveFileID); err != nil {
			obs.Logger.Warn("remote_image_delete_failed", "product_id", id, "file_id", *p.DriveFileID, "error", err)
		} else {
			obs.Logger.Info("remote_image_deleted", "product_id", id, "file_id", *p.DriveFileID)
		}
	}
	removed, _ := o.store.Remove(id)
	o.notifier.Success(fmt.Sprintf("%q has been deleted", p.Name))
	return removed, nil
}
