// Package core defines the core business logic and interfaces for the web2speech service.
package core

import (
	"context"
	"time"
)

// ExtractedText is the result of a content extraction call.
type ExtractedText struct {
	Text        string `json:"text"`
	WordCount   int    `json:"word_count"`
	Language    string `json:"language"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
}

// Audio is the result of a speech synthesis call.
type Audio struct {
	Bytes    []byte
	Duration float64
	Format   string
}

// Artifact is a stored output blob addressable by id.
type Artifact struct {
	ID          string
	Bytes       []byte
	ContentType string
	Size        int64
	Duration    float64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// VoiceDescriptor is a configured voice: identifier, human label, and the
// synthesis backend that serves it. Immutable after configuration load.
type VoiceDescriptor struct {
	ID      string `toml:"id"      json:"id"`
	Label   string `toml:"label"   json:"name"`
	Backend string `toml:"backend" json:"backend"`
}

// Extractor is the uniform interface over URL/PDF extraction backends.
// Implementations must honor context cancellation mid-call.
type Extractor interface {
	ExtractURL(ctx context.Context, url string) (*ExtractedText, error)
	ExtractPDF(ctx context.Context, data []byte) (*ExtractedText, error)
}

// Synthesizer is the uniform interface over external TTS backends.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) (*Audio, error)
}

// ArtifactStore is the durable mapping from artifact id to output blob.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, contentType string, duration float64, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (*Artifact, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
