package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
)

// PolicyFile keeps the policy document in a YAML file on disk
type PolicyFile struct {
	path string
}

// NewPolicyFile creates a file backed policy source
func NewPolicyFile(path string) *PolicyFile {
	return &PolicyFile{path: path}
}

func (f *PolicyFile) Name() string { return "file:" + f.path }

// Load reads the file. A missing file means nothing is stored yet.
func (f *PolicyFile) Load(ctx context.Context) ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, entity.ErrPolicyNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return raw, nil
}

// Save writes cfg as YAML through a temp file and rename so readers never
// see a half written document
func (f *PolicyFile) Save(ctx context.Context, cfg *entity.PolicyConfig) error {
	raw, err := policyconfig.SerializeYAML(cfg)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace policy file: %w", err)
	}
	return nil
}
