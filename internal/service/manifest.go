package service

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/mediaforge/transcoder/internal/domain/model"
)

// manifestVariant describes one playable rendition in the manifest.
type manifestVariant struct {
	Profile    string `json:"profile"`
	Resolution string `json:"resolution"`
	Bitrate    int    `json:"bitrate"`
	Path       string `json:"path"`
}

// manifestDocument is the index written next to the rendition outputs. Only
// completed renditions are listed.
type manifestDocument struct {
	VideoID     string            `json:"video_id"`
	JobID       string            `json:"job_id"`
	TenantID    string            `json:"tenant_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Variants    []manifestVariant `json:"variants"`
}

// BuildManifest renders the manifest document for a job whose renditions all
// completed. Variants are ordered by profile name for stable output.
func BuildManifest(job *model.Job, renditions []*model.Rendition, now time.Time) ([]byte, error) {
	variants := make([]manifestVariant, 0, len(renditions))
	for _, r := range renditions {
		if r.Status != model.RenditionStatusCompleted {
			return nil, fmt.Errorf("rendition %s is %s, not completed", r.ProfileName, r.Status)
		}
		if r.OutputPath == nil || *r.OutputPath == "" {
			return nil, fmt.Errorf("rendition %s has no output path", r.ProfileName)
		}
		variants = append(variants, manifestVariant{
			Profile:    r.ProfileName,
			Resolution: r.Resolution,
			Bitrate:    r.Bitrate,
			Path:       *r.OutputPath,
		})
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("job %s has no renditions to index", job.ID)
	}

	sort.Slice(variants, func(i, j int) bool { return variants[i].Profile < variants[j].Profile })

	doc := manifestDocument{
		VideoID:     job.VideoID,
		JobID:       job.ID,
		TenantID:    job.TenantID,
		GeneratedAt: now.UTC(),
		Variants:    variants,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Output object keys are namespaced by job id so concurrent jobs never write
// the same path.

// RenditionObjectKey returns the object store key for one rendition output.
func RenditionObjectKey(jobID, profileName string) string {
	return path.Join("outputs", jobID, profileName+".mp4")
}

// ManifestObjectKey returns the object store key for the job's manifest.
func ManifestObjectKey(jobID string) string {
	return path.Join("outputs", jobID, "manifest.json")
}
