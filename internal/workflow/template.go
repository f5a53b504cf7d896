package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// TemplateFile is the on-disk description of a shipment, in TOML or JSON.
// A standard lifecycle file lists signers and info_providers at the top
// level; a custom one lists stages.
type TemplateFile struct {
	ID            string          `json:"id" toml:"id"`
	Lifecycle     Lifecycle       `json:"lifecycle" toml:"lifecycle"`
	Signers       []string        `json:"signers" toml:"signers"`
	InfoProviders []string        `json:"infoProviders" toml:"info_providers"`
	Stages        []StageTemplate `json:"stages" toml:"stages"`
}

// DecodeTemplateFile picks the decoder from the file extension.
func DecodeTemplateFile(name string, r io.Reader) (TemplateFile, error) {
	var file TemplateFile
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		decoder := toml.NewDecoder(r)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return TemplateFile{}, fmt.Errorf("decode toml template %s: %w", name, err)
		}
	case ".json":
		decoder := json.NewDecoder(r)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return TemplateFile{}, fmt.Errorf("decode json template %s: %w", name, err)
		}
	default:
		return TemplateFile{}, fmt.Errorf("unsupported template format %q", filepath.Ext(name))
	}
	if file.Lifecycle == "" {
		file.Lifecycle = LifecycleCustom
	}
	return file, nil
}

// StageTemplates resolves the stage list the file describes.
func (f TemplateFile) StageTemplates() ([]StageTemplate, error) {
	switch f.Lifecycle {
	case LifecycleStandard:
		if len(f.Stages) > 0 {
			return nil, invalidConfiguration("standard lifecycle templates must not list stages")
		}
		return StandardLifecycle(f.Signers, f.InfoProviders), nil
	case LifecycleCustom, "":
		return f.Stages, nil
	default:
		return nil, invalidConfiguration("unknown lifecycle %q", f.Lifecycle)
	}
}
