// Package catalog defines the skill record stores: one metadata record per
// skill and one file record per file belonging to a skill.
package catalog

import (
	"path/filepath"
	"strings"
	"time"
)

// SkillMetadata is one record in the metadata store.
type SkillMetadata struct {
	SkillID          string    `json:"skill_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ShortDescription string    `json:"short_description"`
	Domain           string    `json:"domain"`
	Tags             []string  `json:"tags"`
	Author           string    `json:"author,omitempty"`
	Version          string    `json:"version,omitempty"`
	Rating           float64   `json:"rating"`
	UsageCount       int       `json:"usage_count"`
	SuccessRate      float64   `json:"success_rate"`
	SearchableText   string    `json:"searchable_text"`
	Revision         int64     `json:"revision"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Normalize lowercases the domain and tags and derives the searchable text.
// Called on every write; records in the store are always normalized.
func (m *SkillMetadata) Normalize() {
	m.Domain = strings.ToLower(strings.TrimSpace(m.Domain))
	tags := make([]string, 0, len(m.Tags))
	seen := make(map[string]bool, len(m.Tags))
	for _, t := range m.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	m.Tags = tags

	parts := []string{m.Name, m.ShortDescription, m.Description}
	parts = append(parts, m.Tags...)
	m.SearchableText = strings.TrimSpace(strings.Join(parts, " "))
}

// HasTag reports whether the metadata carries the given (normalized) tag.
func (m *SkillMetadata) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Summary is the caller-facing projection of a metadata record used by
// search results and domain listings.
type Summary struct {
	SkillID          string   `json:"skill_id"`
	Name             string   `json:"name"`
	Domain           string   `json:"domain"`
	ShortDescription string   `json:"short_description"`
	Tags             []string `json:"tags"`
	Rating           float64  `json:"rating"`
	Score            float64  `json:"score,omitempty"`
}

// Summarize builds the summary projection of a metadata record.
func (m *SkillMetadata) Summarize() Summary {
	short := m.ShortDescription
	if short == "" {
		short = m.Description
	}
	return Summary{
		SkillID:          m.SkillID,
		Name:             m.Name,
		Domain:           m.Domain,
		ShortDescription: short,
		Tags:             m.Tags,
		Rating:           m.Rating,
	}
}

// SkillFile is one record in the file store, keyed by (skill_id, file_name).
type SkillFile struct {
	SkillID   string    `json:"skill_id"`
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"file_path"`
	FileType  string    `json:"file_type"`
	Content   string    `json:"file_content"`
	SizeBytes int64     `json:"file_size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// FileType derives the extension-based type for a file name, without the dot.
func FileType(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return strings.ToLower(ext)
}
