package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/storage"
)

// Seed is the content of the retention policy file: the object types that
// can pass through the recycle bin and the initial policy of each module.
type Seed struct {
	ObjectTypes []storage.ObjectType
	Policies    []model.RetentionPolicy
}

type seedFile struct {
	ObjectTypes []storage.ObjectType `yaml:"object_types" toml:"object_types"`
	Policies    []seedPolicy         `yaml:"policies" toml:"policies"`
}

// seedPolicy keeps omitted fields apart from explicit zero values so that
// defaults only fill the gaps.
type seedPolicy struct {
	Module                 string `yaml:"module" toml:"module"`
	RetentionDays          *int   `yaml:"retention_days" toml:"retention_days"`
	WarningDaysBefore      *int   `yaml:"warning_days_before" toml:"warning_days_before"`
	FinalWarningDaysBefore *int   `yaml:"final_warning_days_before" toml:"final_warning_days_before"`
	AutoDeleteEnabled      *bool  `yaml:"auto_delete_enabled" toml:"auto_delete_enabled"`
	CanRestoreOwn          *bool  `yaml:"can_restore_own" toml:"can_restore_own"`
	CanRestoreOthers       *bool  `yaml:"can_restore_others" toml:"can_restore_others"`
}

// DefaultObjectTypes is used when no policy file is configured.
var DefaultObjectTypes = []storage.ObjectType{
	{Name: "asset", Module: "inventory", DisplayField: "name", UniqueFields: []string{"tag_number", "serial_number"}},
	{Name: "office", Module: "offices", DisplayField: "name", UniqueFields: []string{"code"}},
	{Name: "catalog_entry", Module: "catalog", DisplayField: "title", UniqueFields: []string{"code"}},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSeed reads a YAML (.yaml, .yml) or TOML (.toml) policy file. An empty
// path yields the default object types and no policies.
func LoadSeed(path string) (*Seed, error) {
	if strings.TrimSpace(path) == "" {
		return &Seed{ObjectTypes: DefaultObjectTypes}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParseSeed(data, filepath.Ext(path))
}

// ParseSeed decodes data in the format named by ext and validates it.
func ParseSeed(data []byte, ext string) (*Seed, error) {
	var file seedFile

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil {
			return nil, fmt.Errorf("decode yaml policy file: %w", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, fmt.Errorf("decode toml policy file: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %q in policy file", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported policy file format %q (use .yaml, .yml or .toml)", ext)
	}

	seed := &Seed{ObjectTypes: file.ObjectTypes}
	if len(seed.ObjectTypes) == 0 {
		seed.ObjectTypes = DefaultObjectTypes
	}

	for i, objectType := range seed.ObjectTypes {
		if err := validate.Struct(objectType); err != nil {
			return nil, fmt.Errorf("object_types[%d]: %w", i, err)
		}
	}

	seen := map[string]bool{}
	for i, raw := range file.Policies {
		policy := raw.resolve()
		if err := validate.Struct(policy); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if err := policy.CheckOrdering(); err != nil {
			return nil, fmt.Errorf("policies[%d] (%s): %w", i, policy.ModuleName, err)
		}
		if seen[policy.ModuleName] {
			return nil, fmt.Errorf("policies[%d]: module %q declared twice", i, policy.ModuleName)
		}
		seen[policy.ModuleName] = true
		seed.Policies = append(seed.Policies, policy)
	}

	return seed, nil
}

func (p seedPolicy) resolve() model.RetentionPolicy {
	policy := model.DefaultRetentionPolicy(strings.ToLower(strings.TrimSpace(p.Module)), time.Time{})
	if p.RetentionDays != nil {
		policy.RetentionDays = *p.RetentionDays
	}
	if p.WarningDaysBefore != nil {
		policy.WarningDaysBefore = *p.WarningDaysBefore
	}
	if p.FinalWarningDaysBefore != nil {
		policy.FinalWarningDaysBefore = *p.FinalWarningDaysBefore
	}
	if p.AutoDeleteEnabled != nil {
		policy.AutoDeleteEnabled = *p.AutoDeleteEnabled
	}
	if p.CanRestoreOwn != nil {
		policy.CanRestoreOwn = *p.CanRestoreOwn
	}
	if p.CanRestoreOthers != nil {
		policy.CanRestoreOthers = *p.CanRestoreOthers
	}
	return policy
}
