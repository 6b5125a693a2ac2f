// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nlq resolves free-text questions into Service Layer queries. The
// LLM does the heavy lifting; this package owns the fixed entity catalog the
// model must choose from, validation of its output, and the keyword fallback
// used when the model is unavailable or names an unknown entity.
package nlq

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Entity is one queryable Service Layer resource.
type Entity struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
	// DateField and AmountField are hints handed to the chart recommender
	// and filter prompt; not every entity has them.
	DateField   string `yaml:"date_field"`
	AmountField string `yaml:"amount_field"`
	// Unstable marks entities whose schemas vary per installation.
	Unstable bool `yaml:"unstable"`
}

// Catalog is the fixed enumeration of valid upstream entities. Resolver
// output is validated against it; nothing outside the catalog ever reaches
// the upstream API.
type Catalog struct {
	entities []Entity
	byName   map[string]Entity
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() (*Catalog, error) {
	var parsed struct {
		Entities []Entity `yaml:"entities"`
	}
	if err := yaml.Unmarshal(catalogYAML, &parsed); err != nil {
		return nil, fmt.Errorf("parse entity catalog: %w", err)
	}
	if len(parsed.Entities) == 0 {
		return nil, fmt.Errorf("entity catalog is empty")
	}

	byName := make(map[string]Entity, len(parsed.Entities))
	for _, entity := range parsed.Entities {
		byName[strings.ToLower(entity.Name)] = entity
	}
	return &Catalog{entities: parsed.Entities, byName: byName}, nil
}

// Lookup finds an entity by (case-insensitive) exact name.
func (c *Catalog) Lookup(name string) (Entity, bool) {
	entity, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return entity, ok
}

// Names lists catalog entity names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.entities))
	for i, entity := range c.entities {
		names[i] = entity.Name
	}
	return names
}

// ResolveByKeywords scores every entity's synonyms against the question and
// returns the best match. Used when the LLM is unavailable or returned an
// entity outside the catalog.
func (c *Catalog) ResolveByKeywords(question string) (Entity, bool) {
	q := " " + strings.ToLower(question) + " "

	type scored struct {
		entity Entity
		score  int
	}
	var candidates []scored
	for _, entity := range c.entities {
		score := 0
		for _, synonym := range entity.Synonyms {
			if strings.Contains(q, " "+synonym+" ") {
				// Longer synonyms are more specific matches.
				score += len(strings.Fields(synonym))
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{entity, score})
		}
	}
	if len(candidates) == 0 {
		return Entity{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].entity, true
}
