package store

import (
	"database/sql"
	"errors"
	"fmt"

	"examtutor/internal/model"
)

// ErrLastConfig is returned when deleting the only remaining endpoint
// profile; the application always needs at least one to talk to.
var ErrLastConfig = errors.New("cannot delete the last remaining API config")

// ErrConfigNotFound is returned for mutations addressing an unknown id.
var ErrConfigNotFound = errors.New("API config not found")

// AddConfig saves a new endpoint profile. The first profile ever saved
// becomes active automatically.
func (s *Store) AddConfig(cfg model.APIConfig) (int64, error) {
	count, err := s.configCount()
	if err != nil {
		return 0, err
	}
	active := 0
	if count == 0 || cfg.Active {
		active = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if active == 1 {
		if _, err := tx.Exec(`UPDATE api_configs SET active = 0`); err != nil {
			return 0, err
		}
	}
	res, err := tx.Exec(
		`INSERT INTO api_configs (name, api_key, api_url, api_model, active) VALUES (?, ?, ?, ?, ?)`,
		cfg.Name, cfg.APIKey, cfg.APIURL, cfg.Model, active,
	)
	if err != nil {
		return 0, fmt.Errorf("insert API config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// UpdateConfig replaces the named fields of a profile by id.
func (s *Store) UpdateConfig(cfg model.APIConfig) error {
	res, err := s.db.Exec(
		`UPDATE api_configs SET name = ?, api_key = ?, api_url = ?, api_model = ? WHERE id = ?`,
		cfg.Name, cfg.APIKey, cfg.APIURL, cfg.Model, cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("update API config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// DeleteConfig removes a profile by id. Deleting the last remaining
// profile is forbidden; deleting the active one promotes another.
func (s *Store) DeleteConfig(id int64) error {
	count, err := s.configCount()
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastConfig
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var wasActive int
	err = tx.QueryRow(`SELECT active FROM api_configs WHERE id = ?`, id).Scan(&wasActive)
	if err == sql.ErrNoRows {
		return ErrConfigNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM api_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete API config: %w", err)
	}
	if wasActive == 1 {
		if _, err := tx.Exec(
			`UPDATE api_configs SET active = 1 WHERE id = (SELECT MIN(id) FROM api_configs)`,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetActiveConfig marks one profile active and all others inactive.
func (s *Store) SetActiveConfig(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE api_configs SET active = 0`); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE api_configs SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return tx.Commit()
}

// ActiveConfig returns the active profile, or nil when none is saved.
func (s *Store) ActiveConfig() (*model.APIConfig, error) {
	var cfg model.APIConfig
	var active int
	err := s.db.QueryRow(
		`SELECT id, name, api_key, api_url, api_model, active FROM api_configs WHERE active = 1`,
	).Scan(&cfg.ID, &cfg.Name, &cfg.APIKey, &cfg.APIURL, &cfg.Model, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active API config: %w", err)
	}
	cfg.Active = true
	return &cfg, nil
}

// ListConfigs returns all saved profiles ordered by id.
func (s *Store) ListConfigs() ([]model.APIConfig, error) {
	rows, err := s.db.Query(
		`SELECT id, name, api_key, api_url, api_model, active FROM api_configs ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.APIConfig
	for rows.Next() {
		var cfg model.APIConfig
		var active int
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.APIKey, &cfg.APIURL, &cfg.Model, &active); err != nil {
			return nil, err
		}
		cfg.Active = active == 1
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *Store) configCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM api_configs`).Scan(&count)
	return count, err
}
