// Package knowledge loads the static persona and topic notes used to ground
// generated answers.
package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/dotsetgreg/addressbot/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Topic is one named block of reference text.
type Topic struct {
	Label   string `yaml:"label" json:"label"`
	Content string `yaml:"content" json:"content"`
}

// Base is the parsed knowledge file. The zero value is an empty base.
type Base struct {
	Persona    string           `yaml:"persona" json:"persona"`
	StyleLines []string         `yaml:"style_lines" json:"style_lines"`
	Topics     map[string]Topic `yaml:"topics" json:"topics"`
}

// Load reads a YAML or JSON knowledge file. An empty path or a missing file
// yields an empty base.
func Load(path string) (*Base, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Base{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Base{}, nil
		}
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return Parse(data)
}

// Parse decodes knowledge from YAML. JSON input is accepted as YAML.
func Parse(data []byte) (*Base, error) {
	var b Base
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse knowledge: %w", err)
	}
	return &b, nil
}

// Empty reports whether the base carries nothing worth rendering.
func (b *Base) Empty() bool {
	return b == nil || (strings.TrimSpace(b.Persona) == "" && len(b.StyleLines) == 0 && len(b.Topics) == 0)
}

// Keys returns topic keys in sorted order.
func (b *Base) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.Topics))
	for k := range b.Topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Select renders the named topics as "[key]\ncontent" blocks, skipping
// unknown keys and topics without content.
func (b *Base) Select(keys []string) string {
	if b == nil {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		topic, ok := b.Topics[strings.TrimSpace(key)]
		if !ok || strings.TrimSpace(topic.Content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", strings.TrimSpace(key), strings.TrimSpace(topic.Content)))
	}
	return strings.Join(parts, "\n\n")
}

// Grounding renders persona, style notes, the topic catalogue and topic
// contents, cut to at most maxChars runes. maxChars <= 0 means no limit.
func (b *Base) Grounding(maxChars int) string {
	if b.Empty() {
		return ""
	}

	var sb strings.Builder
	if persona := strings.TrimSpace(b.Persona); persona != "" {
		sb.WriteString("[persona]\n")
		sb.WriteString(persona)
		sb.WriteString("\n\n")
	}
	if len(b.StyleLines) > 0 {
		sb.WriteString("[style]\n")
		for _, line := range b.StyleLines {
			if line = strings.TrimSpace(line); line != "" {
				sb.WriteString("- ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	keys := b.Keys()
	if len(keys) > 0 {
		sb.WriteString("[topics]\n")
		for _, key := range keys {
			label := strings.TrimSpace(b.Topics[key].Label)
			if label == "" {
				label = key
			}
			fmt.Fprintf(&sb, "- %s: %s\n", key, label)
		}
		sb.WriteString("\n")
		sb.WriteString(b.Select(keys))
	}

	out := strings.TrimSpace(sb.String())
	if maxChars > 0 {
		out = utils.Truncate(out, maxChars)
	}
	return out
}
