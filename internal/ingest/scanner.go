// Package ingest discovers skill directories on disk and synchronizes
// them into the record stores and the semantic index.
package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/catalog"
)

// ScannedSkill is one skill directory turned into store records.
type ScannedSkill struct {
	Dir      string
	Metadata *catalog.SkillMetadata
	Files    []catalog.SkillFile
}

// SkippedSkill reports a directory that looked like a skill but could not
// be ingested, usually a broken specification.
type SkippedSkill struct {
	Dir string
	Err error
}

// ScanResult is everything one pass over the root produced.
type ScanResult struct {
	Skills  []ScannedSkill
	Skipped []SkippedSkill
}

// Scanner walks a root directory. Every directory holding a SKILL.md is
// one skill; skills do not nest.
type Scanner struct {
	root    string
	exclude []string
}

// NewScanner creates a scanner over root with doublestar exclusion
// patterns applied to skill-relative file paths.
func NewScanner(root string, exclude []string) *Scanner {
	return &Scanner{root: root, exclude: exclude}
}

// Root returns the configured skill root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan discovers every skill under the root. A missing root is not an
// error: it scans as empty, which lets setup run before any skill exists.
func (s *Scanner) Scan() (*ScanResult, error) {
	return s.ScanDir(s.root)
}

// ScanDir discovers every skill under one directory, typically a
// sub-folder of the root for an incremental refresh.
func (s *Scanner) ScanDir(dir string) (*ScanResult, error) {
	result := &ScanResult{}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return result, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		spec, ok := specFileIn(path)
		if !ok {
			return nil
		}

		skill, serr := s.scanSkill(path, spec)
		if serr != nil {
			result.Skipped = append(result.Skipped, SkippedSkill{Dir: path, Err: serr})
		} else {
			result.Skills = append(result.Skills, *skill)
		}
		// A skill directory is a leaf; nothing below it is another skill.
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return result, nil
}

// scanSkill reads one skill directory into records.
func (s *Scanner) scanSkill(dir, specName string) (*ScannedSkill, error) {
	specContent, err := os.ReadFile(filepath.Join(dir, specName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", specName, err)
	}
	spec, err := bundle.ParseSpec(string(specContent))
	if err != nil {
		return nil, err
	}

	meta := &catalog.SkillMetadata{
		SkillID:          spec.SkillID(),
		Name:             spec.Name,
		Description:      spec.Description,
		ShortDescription: spec.ShortDescription,
		Domain:           spec.Domain,
		Tags:             spec.Tags,
		Author:           spec.Author,
		Version:          spec.Version,
		Rating:           spec.Rating,
	}

	var files []catalog.SkillFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.excluded(rel) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		files = append(files, catalog.SkillFile{
			SkillID:  meta.SkillID,
			FileName: rel,
			Content:  string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ScannedSkill{Dir: dir, Metadata: meta, Files: files}, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// specFileIn reports whether the directory holds a specification file and
// returns its actual name (matching is case-insensitive).
func specFileIn(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && bundle.IsSpecFile(e.Name()) {
			return e.Name(), true
		}
	}
	return "", false
}
