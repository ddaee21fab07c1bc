package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// PortfolioStore persists the portfolio snapshot as JSON using a
// write-temp-then-rename discipline so a crash never leaves a torn file.
type PortfolioStore struct {
	path string
}

// NewPortfolioStore creates a store writing to the given path
func NewPortfolioStore(path string) *PortfolioStore {
	return &PortfolioStore{path: path}
}

// Save writes the portfolio atomically
func (s *PortfolioStore) Save(p *models.Portfolio) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the last persisted portfolio. Returns (nil, nil) when no
// snapshot exists yet.
func (s *PortfolioStore) Load() (*models.Portfolio, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var p models.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*models.Position)
	}

	log.Info().
		Float64("balance", p.Balance).
		Int("positions", len(p.Positions)).
		Msg("Portfolio snapshot loaded")
	return &p, nil
}
