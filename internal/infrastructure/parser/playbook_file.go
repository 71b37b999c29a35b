// Package parser reads and writes playbook definition files.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// MaxFileSize bounds the size of a playbook file
const MaxFileSize = 1 << 20

// PlaybookFile reads playbook definitions from YAML or JSON files
type PlaybookFile struct {
	fs afero.Fs
}

// NewPlaybookFile creates a reader over fs
func NewPlaybookFile(fs afero.Fs) *PlaybookFile {
	return &PlaybookFile{fs: fs}
}

// Load decodes a playbook definition. Unknown fields are rejected.
func (p *PlaybookFile) Load(path string) (*dto.CreatePlaybookRequest, error) {
	input, err := p.read(path)
	if err != nil {
		return nil, err
	}

	var req dto.CreatePlaybookRequest
	if err := decodeStrict(input, &req, path); err != nil {
		return nil, model.NewValidationError("decode %s: %v", path, err)
	}
	if len(req.Steps) == 0 {
		return nil, model.NewValidationError("%s defines no steps", path)
	}
	return &req, nil
}

// LoadSteps returns only the step list of a definition file, for full-replace edits
func (p *PlaybookFile) LoadSteps(path string) ([]dto.StepDTO, error) {
	req, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	return req.Steps, nil
}

// Export writes a template version as YAML using temp file + rename
func (p *PlaybookFile) Export(path string, pb *dto.PlaybookDTO) error {
	out := dto.CreatePlaybookRequest{
		Name:        pb.Name,
		Description: pb.Description,
		Category:    pb.Category,
		RiskLevel:   pb.RiskLevel,
		TriggerType: pb.TriggerType,
		Steps:       pb.Steps,
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode playbook %s: %w", pb.ID, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode playbook %s: %w", pb.ID, err)
	}
	return writeFileAtomic(p.fs, path, buf.Bytes())
}

func (p *PlaybookFile) read(path string) ([]byte, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	input, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(input) > MaxFileSize {
		return nil, model.NewValidationError("%s exceeds %d bytes", path, MaxFileSize)
	}
	return input, nil
}

func decodeStrict(input []byte, out interface{}, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		decoder := json.NewDecoder(bytes.NewReader(input))
		decoder.DisallowUnknownFields()
		return decoder.Decode(out)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(input))
	decoder.KnownFields(true)
	return decoder.Decode(out)
}

func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer fs.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}
