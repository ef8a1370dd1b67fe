package models

import "time"

// DocumentMetadata describes where a document came from.
type DocumentMetadata struct {
	Filename     string `json:"filename,omitempty"`
	Region       string `json:"region,omitempty"`
	Organization string `json:"organization,omitempty"`
	Standard     string `json:"standard,omitempty"`
}

// Document is a plain-text document owned by the external document store.
type Document struct {
	ID          string           `json:"id"`
	Text        string           `json:"text"`
	Metadata    DocumentMetadata `json:"metadata"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Processed   bool             `json:"processed"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// DocumentFilter narrows the documents listed from the store. Empty fields match all.
type DocumentFilter struct {
	IDs          []string
	Region       string
	Organization string
	Standard     string
}

// DocumentStatus is written back to the store after a document is indexed.
type DocumentStatus struct {
	Fingerprint string
	Processed   bool
}
