package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RenditionStatus represents the current status of a single rendition.
type RenditionStatus string

const (
	// RenditionStatusPending indicates the rendition has not started encoding yet.
	RenditionStatusPending RenditionStatus = "pending"
	// RenditionStatusProcessing indicates the rendition is being encoded.
	RenditionStatusProcessing RenditionStatus = "processing"
	// RenditionStatusCompleted indicates the rendition output was uploaded.
	RenditionStatusCompleted RenditionStatus = "completed"
	// RenditionStatusFailed indicates encoding or upload failed for the rendition.
	RenditionStatusFailed RenditionStatus = "failed"
)

// Valid returns true if the RenditionStatus is one of the known states.
func (s RenditionStatus) Valid() bool {
	switch s {
	case RenditionStatusPending, RenditionStatusProcessing, RenditionStatusCompleted, RenditionStatusFailed:
		return true
	}
	return false
}

// Rendition represents one encoded output variant of a source video.
type Rendition struct {
	ID          string          `json:"id"                     db:"id"`
	JobID       string          `json:"job_id"                 db:"job_id"`
	ProfileName string          `json:"profile_name"           db:"profile_name"`
	Resolution  string          `json:"resolution"             db:"resolution"`
	Bitrate     int             `json:"bitrate"                db:"bitrate"`
	Status      RenditionStatus `json:"status"                 db:"status"`
	OutputPath  *string         `json:"output_path,omitempty"  db:"output_path"`
	CreatedAt   time.Time       `json:"created_at"             db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// RenditionProfile describes one configured output variant to produce per job.
type RenditionProfile struct {
	Name       string
	Resolution string
	Bitrate    int
}

// Validate validates a single profile.
func (p RenditionProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if strings.TrimSpace(p.Resolution) == "" {
		return errors.New("profile resolution is required")
	}
	if p.Bitrate <= 0 {
		return errors.New("profile bitrate must be positive")
	}
	return nil
}

// ParseProfiles parses the configured profile list. The input format is a
// comma-separated list of name:WxH:bitrateKbps entries, e.g.
// "480p:854x480:800,720p:1280x720:2500".
func ParseProfiles(raw string) ([]RenditionProfile, error) {
	entries := strings.Split(raw, ",")
	profiles := make([]RenditionProfile, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid profile entry %q: want name:resolution:bitrate", entry)
		}

		bitrate, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid bitrate in profile entry %q: %w", entry, err)
		}

		profile := RenditionProfile{
			Name:       strings.TrimSpace(parts[0]),
			Resolution: strings.TrimSpace(parts[1]),
			Bitrate:    bitrate,
		}
		if validateErr := profile.Validate(); validateErr != nil {
			return nil, fmt.Errorf("invalid profile entry %q: %w", entry, validateErr)
		}
		if _, dup := seen[profile.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q", profile.Name)
		}
		seen[profile.Name] = struct{}{}
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		return nil, errors.New("at least one rendition profile is required")
	}
	return profiles, nil
}
