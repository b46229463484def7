package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
)

// ErrNotFound - проект или подключение не найдены
var ErrNotFound = errors.New("not found")

// Repository - доступ только на чтение к данным проекта,
// которыми владеет внешний слой управления проектами
type Repository interface {
	Connection(ctx context.Context, id string) (adapters.Connection, error)
	TableMappings(ctx context.Context, projectID string) ([]TableMapping, error)
	ColumnMappings(ctx context.Context, projectID, tableMappingID string) ([]ColumnMapping, error)
	ProjectConnections(ctx context.Context, projectID string) (source, target string, err error)
}

// LoadProject собирает и проверяет проект из репозитория
func LoadProject(ctx context.Context, repo Repository, projectID string) (*Project, error) {
	srcID, dstID, err := repo.ProjectConnections(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	p := &Project{ID: projectID}
	if p.Source, err = repo.Connection(ctx, srcID); err != nil {
		return nil, fmt.Errorf("source connection %s: %w", srcID, err)
	}
	if p.Target, err = repo.Connection(ctx, dstID); err != nil {
		return nil, fmt.Errorf("target connection %s: %w", dstID, err)
	}

	tables, err := repo.TableMappings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("table mappings: %w", err)
	}
	for i := range tables {
		cols, err := repo.ColumnMappings(ctx, projectID, tables[i].ID)
		if err != nil {
			return nil, fmt.Errorf("column mappings of %s: %w", tables[i].ID, err)
		}
		tables[i].Columns = cols
	}
	p.Tables = tables

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project %s: %w", projectID, err)
	}
	return p, nil
}

// ProjectFile - YAML-файл проекта
type ProjectFile struct {
	Connections []adapters.Connection `yaml:"connections"`
	Projects    []ProjectSpec         `yaml:"projects"`
}

// ProjectSpec - проект в файле, подключения указываются по id
type ProjectSpec struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name,omitempty"`
	Source string         `yaml:"source"`
	Target string         `yaml:"target"`
	Tables []TableMapping `yaml:"tables"`
}

// YAMLRepository - Repository поверх YAML-файла проекта
type YAMLRepository struct {
	mu   sync.RWMutex
	file ProjectFile
}

// NewYAMLRepository читает файл проекта
func NewYAMLRepository(path string) (*YAMLRepository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project file: %w", err)
	}
	defer f.Close()
	return ReadYAML(f)
}

// ReadYAML разбирает файл проекта из потока
func ReadYAML(r io.Reader) (*YAMLRepository, error) {
	var file ProjectFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &YAMLRepository{file: file}, nil
}

// WriteYAML сохраняет проект (например, результат автоподбора) в YAML
func WriteYAML(w io.Writer, p *Project) error {
	file := ProjectFile{
		Connections: []adapters.Connection{p.Source, p.Target},
		Projects: []ProjectSpec{{
			ID:     p.ID,
			Name:   p.Name,
			Source: p.Source.ID,
			Target: p.Target.ID,
			Tables: p.Tables,
		}},
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	return enc.Close()
}

func (r *YAMLRepository) project(id string) (*ProjectSpec, error) {
	for i := range r.file.Projects {
		if r.file.Projects[i].ID == id {
			return &r.file.Projects[i], nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
}

func (r *YAMLRepository) Connection(_ context.Context, id string) (adapters.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.file.Connections {
		if c.ID == id {
			return c, nil
		}
	}
	return adapters.Connection{}, fmt.Errorf("connection %s: %w", id, ErrNotFound)
}

func (r *YAMLRepository) ProjectConnections(_ context.Context, projectID string) (string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.project(projectID)
	if err != nil {
		return "", "", err
	}
	return p.Source, p.Target, nil
}

// TableMappings возвращает копии соответствий без колонок
func (r *YAMLRepository) TableMappings(_ context.Context, projectID string) ([]TableMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.project(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]TableMapping, len(p.Tables))
	for i, t := range p.Tables {
		t.Columns = nil
		t.DependsOn = append([]string(nil), t.DependsOn...)
		if t.ID == "" {
			t.ID = t.SourceTable
		}
		out[i] = t
	}
	return out, nil
}

func (r *YAMLRepository) ColumnMappings(_ context.Context, projectID, tableMappingID string) ([]ColumnMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.project(projectID)
	if err != nil {
		return nil, err
	}
	for _, t := range p.Tables {
		if t.ID == tableMappingID || (t.ID == "" && t.SourceTable == tableMappingID) {
			return append([]ColumnMapping(nil), t.Columns...), nil
		}
	}
	return nil, fmt.Errorf("table mapping %s: %w", tableMappingID, ErrNotFound)
}
