package model

import (
	"encoding/json"
	"time"
)

// MediaType classifies the media attached to a mention
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaNone  MediaType = ""
)

// ParseMediaType coerces a raw API media_type value to the closed enum.
// Anything that is not an image or a video (CAROUSEL_ALBUM, TEXT_POST, ...)
// collapses to MediaNone.
func ParseMediaType(raw string) MediaType {
	switch raw {
	case "IMAGE", "image":
		return MediaImage
	case "VIDEO", "video":
		return MediaVideo
	default:
		return MediaNone
	}
}

// GeoPoint is a latitude/longitude pair
type GeoPoint struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Thread is one ingested mention post.
//
// ID is assigned by the source platform and never changes. IssueID is empty
// until the clustering engine assigns an issue, and Replied can only become
// true after that. Raw preserves the original API payload for forensic replay.
type Thread struct {
	ID           string          `json:"id" yaml:"id"`
	Username     string          `json:"username" yaml:"username"`
	Text         string          `json:"text" yaml:"text"`
	MediaType    MediaType       `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	MediaURL     string          `json:"media_url,omitempty" yaml:"media_url,omitempty"`
	Timestamp    time.Time       `json:"timestamp" yaml:"timestamp"`
	LocationName string          `json:"location_name,omitempty" yaml:"location_name,omitempty"`
	Location     *GeoPoint       `json:"location_coordinates,omitempty" yaml:"location_coordinates,omitempty"`
	IssueID      string          `json:"issue_id,omitempty" yaml:"issue_id,omitempty"`
	Replied      bool            `json:"replied" yaml:"replied"`
	Raw          json.RawMessage `json:"raw,omitempty" yaml:"-"`
	IngestedAt   time.Time       `json:"ingested_at" yaml:"ingested_at"`
}

// Assigned reports whether the thread has been clustered into an issue
func (t *Thread) Assigned() bool {
	return t.IssueID != ""
}
