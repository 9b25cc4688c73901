// Package model defines domain types used by the console and storefront.
package model

// Product is a catalog entry managed by the admin console.
//
// Image is always a renderable representation: a remote URL or an inline
// data URI, never empty after a successful add. DriveFileID is non-nil only
// when the current Image was produced by a successful remote upload of that
// exact image.
type Product struct {
	ID                 string  `json:"id" yaml:"id"`
	Name               string  `json:"name" yaml:"name"`
	Description        string  `json:"description" yaml:"description"`
	Price              float64 `json:"price" yaml:"price"`
	Category           string  `json:"category,omitempty" yaml:"category,omitempty"`
	Image              string  `json:"image" yaml:"image"`
	InStock            bool    `json:"in_stock" yaml:"in_stock"`
	DriveFileID        *string `json:"drive_file_id" yaml:"drive_file_id"`
	ExternalPaymentURL *string `json:"external_payment_url" yaml:"external_payment_url"`
}

// AuthMode is the console authorization mode owned by the session manager.
type AuthMode string

const (
	ModeInitializing       AuthMode = "initializing"
	ModeInitFailed         AuthMode = "init_failed"
	ModeUnauthenticated    AuthMode = "unauthenticated"
	ModeVerifyingOwnership AuthMode = "verifying_ownership"
	ModeAuthorized         AuthMode = "authorized"
	ModeForbidden          AuthMode = "forbidden"
)

// Session describes the current identity as seen by the session manager.
// Read-only outside the session package.
type Session struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	Mode      AuthMode `json:"mode"`
	ProjectID string   `json:"project_id"`
}

// OutcomeKind tags the result of one upload attempt.
type OutcomeKind string

const (
	OutcomeRemote        OutcomeKind = "remote"
	OutcomeLocalFallback OutcomeKind = "local_fallback"
)

// UploadOutcome is produced once per upload attempt and consumed by the
// catalog orchestrator. FileID is set only for remote outcomes. Message
// carries the warning or error text for fallback outcomes.
type UploadOutcome struct {
	Kind     OutcomeKind
	Image    string
	FileID   *string
	Sequence uint64
	Message  string
}

// ToastKind classifies a toast message.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast is a transient user-facing status message. A single instance is
// live at a time; a new one replaces the current one.
type Toast struct {
	Message string    `json:"message"`
	Kind    ToastKind `json:"kind"`
}

// FormState is the transient add/edit buffer of the orchestrator. Price is
// kept as entered and coerced on submit. Image and DriveFileID are only
// ever written together.
type FormState struct {
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Price              string  `json:"price"`
	Image              string  `json:"image"`
	Category           string  `json:"category"`
	InStock            bool    `json:"in_stock"`
	DriveFileID        *string `json:"drive_file_id"`
	ExternalPaymentURL string  `json:"external_payment_url"`
}

// DefaultForm returns the empty form defaults.
func DefaultForm() FormState {
	return FormState{InStock: true}
}

// CartItem references a product and quantity in a storefront cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CartQuote is the priced summary of a cart. Shipping is always free.
type CartQuote struct {
	Items    int     `json:"items"`
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}
