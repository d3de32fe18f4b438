package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"recruitmate/internal/domain"
)

// ValidatePosition trims p and fills the default status.
func ValidatePosition(p *domain.Position) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return errors.New("position title is required")
	}
	if p.Status == "" {
		p.Status = domain.StatusDraft
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown position status %q", p.Status)
	}
	if p.StartTime != nil && p.EndTime != nil && p.EndTime.Before(*p.StartTime) {
		return fmt.Errorf("position %q ends before it starts", p.Title)
	}
	return nil
}

type positionsFile struct {
	Positions []domain.Position `yaml:"positions"`
}

// LoadPositionsFile reads a seed file of the form
//
//	positions:
//	  - title: Backend Engineer
//	    description: ...
//	    status: open
//
// Entries without a status are imported as open.
func LoadPositionsFile(path string) ([]domain.Position, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read positions file: %w", err)
	}

	var f positionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse positions file %s: %w", path, err)
	}

	var errs []string
	for i := range f.Positions {
		p := &f.Positions[i]
		if p.Status == "" {
			p.Status = domain.StatusOpen
		}
		if err := ValidatePosition(p); err != nil {
			errs = append(errs, fmt.Sprintf("positions[%d]: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid positions file %s:\n  - %s", path, strings.Join(errs, "\n  - "))
	}
	return f.Positions, nil
}
