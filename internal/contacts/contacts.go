// Package contacts defines the contact records kept in the local directory
// and the remote records they are reconciled from.
package contacts

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissingExternalID is returned when a remote record carries no identifier
var ErrMissingExternalID = errors.New("remote record has no external id")

// PhoneNumber is a typed phone number with an optional label
type PhoneNumber struct {
	Number string `json:"number"`
	Type   string `json:"type,omitempty"`
	Label  string `json:"label,omitempty"`
}

// RemoteRecord is a contact as returned by the remote source
type RemoteRecord struct {
	ExternalID     string        `json:"id"`
	DisplayName    string        `json:"displayName"`
	PhoneNumbers   []PhoneNumber `json:"phoneNumbers,omitempty"`
	Organization   string        `json:"organization,omitempty"`
	EmailAddresses []string      `json:"emailAddresses,omitempty"`
}

// Validate checks that the record can be reconciled
func (r *RemoteRecord) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return ErrMissingExternalID
	}
	return nil
}

// ContactRecord is the local snapshot of a remote contact.
// All timestamps are UTC instants.
type ContactRecord struct {
	ID             uuid.UUID     `json:"id"`
	ExternalID     string        `json:"externalId"`
	DisplayName    string        `json:"displayName"`
	PhoneNumbers   []PhoneNumber `json:"phoneNumbers"`
	Organization   string        `json:"organization,omitempty"`
	EmailAddresses []string      `json:"emailAddresses"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	DeletedAt      *time.Time    `json:"deletedAt,omitempty"`
}

// NewFromRemote builds a new local record from its first sighting
func NewFromRemote(remote *RemoteRecord, now time.Time) *ContactRecord {
	now = now.UTC()
	r := &ContactRecord{
		ID:         uuid.New(),
		ExternalID: remote.ExternalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.copyFields(remote)
	return r
}

// IsDeleted reports whether the record has been soft-deleted
func (r *ContactRecord) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Matches reports whether the stored snapshot is field-for-field equal to
// the remote record. Nil and empty lists compare equal.
func (r *ContactRecord) Matches(remote *RemoteRecord) bool {
	return r.ExternalID == remote.ExternalID &&
		r.DisplayName == remote.DisplayName &&
		r.Organization == remote.Organization &&
		slices.Equal(r.PhoneNumbers, remote.PhoneNumbers) &&
		slices.Equal(r.EmailAddresses, remote.EmailAddresses)
}

// ApplyRemote overwrites the snapshot fields with the remote values, clears
// any soft delete and bumps UpdatedAt.
func (r *ContactRecord) ApplyRemote(remote *RemoteRecord, now time.Time) {
	r.copyFields(remote)
	r.DeletedAt = nil
	r.touch(now)
}

// MarkDeleted soft-deletes the record at the given instant
func (r *ContactRecord) MarkDeleted(at time.Time) {
	at = at.UTC()
	r.DeletedAt = &at
	r.touch(at)
}

// Clone returns a deep copy of the record
func (r *ContactRecord) Clone() *ContactRecord {
	c := *r
	c.PhoneNumbers = slices.Clone(r.PhoneNumbers)
	c.EmailAddresses = slices.Clone(r.EmailAddresses)
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// NormalizeTimes converts every timestamp to UTC, as done after reading
// from a store that returns local times.
func (r *ContactRecord) NormalizeTimes() {
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if r.DeletedAt != nil {
		d := r.DeletedAt.UTC()
		r.DeletedAt = &d
	}
}

func (r *ContactRecord) copyFields(remote *RemoteRecord) {
	r.DisplayName = remote.DisplayName
	r.Organization = remote.Organization
	r.PhoneNumbers = slices.Clone(remote.PhoneNumbers)
	r.EmailAddresses = slices.Clone(remote.EmailAddresses)
}

// touch sets UpdatedAt while keeping UpdatedAt >= CreatedAt even if the
// clock moved backwards.
func (r *ContactRecord) touch(now time.Time) {
	now = now.UTC()
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.UpdatedAt = now
}
