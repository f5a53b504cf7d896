package workflow

import "strings"

// normalizeTemplates trims identifiers and rejects malformed stage lists.
// Duplicate signers and providers collapse; duplicate document names are
// an error because they would make completeness ambiguous.
func normalizeTemplates(stages []StageTemplate) ([]StageTemplate, error) {
	if len(stages) == 0 {
		return nil, invalidConfiguration("at least one stage is required")
	}
	out := make([]StageTemplate, 0, len(stages))
	for i, stage := range stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return nil, invalidConfiguration("stage %d has no name", i)
		}

		documents := make([]string, 0, len(stage.RequiredDocuments))
		seen := make(map[string]struct{}, len(stage.RequiredDocuments))
		for _, doc := range stage.RequiredDocuments {
			doc = strings.TrimSpace(doc)
			if doc == "" {
				return nil, invalidConfiguration("stage %q lists an empty document name", name)
			}
			if _, dup := seen[doc]; dup {
				return nil, invalidConfiguration("stage %q lists document %q twice", name, doc)
			}
			seen[doc] = struct{}{}
			documents = append(documents, doc)
		}

		signers := uniqueActors(stage.Signers)
		if len(signers) == 0 {
			return nil, invalidConfiguration("stage %q has no signers", name)
		}
		providers := uniqueActors(stage.InfoProviders)
		if len(documents) > 0 && len(providers) == 0 {
			return nil, invalidConfiguration("stage %q requires documents but has no information providers", name)
		}

		out = append(out, StageTemplate{
			Name:              name,
			RequiredDocuments: documents,
			Signers:           signers,
			InfoProviders:     providers,
		})
	}
	return out, nil
}

func uniqueActors(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
