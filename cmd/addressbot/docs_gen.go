package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/dotsetgreg/addressbot/pkg/providers"
	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"
)

var (
	cliDocsDir  = filepath.Join("reference", "cli")
	manDocsDir  = filepath.Join("reference", "man")
	configDoc   = filepath.Join("reference", "config.md")
	providerDoc = filepath.Join("reference", "providers.md")
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Regenerate the CLI, config and provider references",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if the docs on disk differ from a fresh generation")

	docs := &cobra.Command{
		Use:    "docs",
		Short:  "Reference docs maintenance",
		Hidden: true,
	}
	docs.AddCommand(gen)
	return docs
}

// docSet maps a path relative to the docs root to its rendered content.
type docSet map[string][]byte

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	docs, err := renderReferences(rootFactory())
	if err != nil {
		return err
	}
	if checkOnly {
		return docs.check(outputDir)
	}
	return docs.write(outputDir)
}

func renderReferences(root *cobra.Command) (docSet, error) {
	docs := docSet{}
	if err := renderCommandDocs(root, docs); err != nil {
		return nil, err
	}

	configRef, err := buildConfigReferenceMarkdown()
	if err != nil {
		return nil, err
	}
	docs[configDoc] = []byte(configRef)

	providerRef, err := buildProvidersReferenceMarkdown()
	if err != nil {
		return nil, err
	}
	docs[providerDoc] = []byte(providerRef)
	return docs, nil
}

// renderCommandDocs emits one markdown page and one man page per visible
// command.
func renderCommandDocs(cmd *cobra.Command, docs docSet) error {
	if !cmd.IsAvailableCommand() && cmd.HasParent() {
		return nil
	}
	cmd.DisableAutoGenTag = true
	base := strings.ReplaceAll(cmd.CommandPath(), " ", "_")

	var md bytes.Buffer
	md.WriteString("# " + cmd.CommandPath() + "\n\n")
	if err := cobraDoc.GenMarkdownCustom(cmd, &md, func(name string) string { return name }); err != nil {
		return fmt.Errorf("markdown for %s: %w", cmd.CommandPath(), err)
	}
	docs[filepath.Join(cliDocsDir, base+".md")] = md.Bytes()

	var man bytes.Buffer
	header := &cobraDoc.GenManHeader{Title: "ADDRESSBOT", Section: "1", Source: appName}
	if err := cobraDoc.GenMan(cmd, header, &man); err != nil {
		return fmt.Errorf("man page for %s: %w", cmd.CommandPath(), err)
	}
	manName := strings.ReplaceAll(cmd.CommandPath(), " ", "-") + ".1"
	docs[filepath.Join(manDocsDir, manName)] = man.Bytes()

	for _, child := range cmd.Commands() {
		if err := renderCommandDocs(child, docs); err != nil {
			return err
		}
	}
	return nil
}

func (d docSet) paths() []string {
	out := make([]string, 0, len(d))
	for p := range d {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// write replaces the generated directories wholesale so pages for removed
// commands disappear.
func (d docSet) write(root string) error {
	for _, dir := range []string{cliDocsDir, manDocsDir} {
		if err := os.RemoveAll(filepath.Join(root, dir)); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	for _, rel := range d.paths() {
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, d[rel], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

func (d docSet) check(root string) error {
	for _, rel := range d.paths() {
		onDisk, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", rel)
		}
		if !bytes.Equal(onDisk, d[rel]) {
			return fmt.Errorf("docs out of date: %s differs; run `%s docs generate`", rel, appName)
		}
	}

	for _, dir := range []string{cliDocsDir, manDocsDir} {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil || entry.IsDir() {
				return walkErr
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if _, ok := d[rel]; !ok {
				return fmt.Errorf("docs out of date: %s is no longer generated", rel)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	rows, err := configRows(reflect.ValueOf(config.DefaultConfig()).Elem(), "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n\n")
	writeRowTable(&b, rows)
	return b.String(), nil
}

// configRows walks a config struct value and reports every leaf with the
// value it holds, which for DefaultConfig is the default.
func configRows(v reflect.Value, prefix string) ([]configFieldRow, error) {
	var rows []configFieldRow
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := jsonKey(field)
		if !field.IsExported() || key == "" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if field.Type.Kind() == reflect.Struct {
			nested, err := configRows(v.Field(i), path)
			if err != nil {
				return nil, err
			}
			rows = append(rows, nested...)
			continue
		}

		def, err := json.Marshal(v.Field(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("encode default for %s: %w", path, err)
		}
		rows = append(rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(field.Type),
			Env:     strings.TrimSpace(field.Tag.Get("env")),
			Default: string(def),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	return rows, nil
}

func jsonKey(f reflect.StructField) string {
	key, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	key = strings.TrimSpace(key)
	if key == "-" {
		return ""
	}
	return key
}

func writeRowTable(b *strings.Builder, rows []configFieldRow) {
	cell := func(v string) string {
		if strings.TrimSpace(v) == "" || v == "null" {
			v = "-"
		}
		return "`" + strings.ReplaceAll(v, "|", "\\|") + "`"
	}
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", cell(row.Path), cell(row.Type), cell(row.Env), cell(row.Default))
	}
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "list of " + friendlyType(t.Elem())
	case reflect.Map:
		return "map of " + friendlyType(t.Elem())
	default:
		return t.String()
	}
}

var providerSummaries = map[string]string{
	providers.ProviderAnthropic:  "Anthropic Messages API through the official SDK. System prompts are sent in the separate system field.",
	providers.ProviderGemini:     "Gemini API through the Google GenAI SDK. System prompts become the system instruction.",
	providers.ProviderOpenRouter: "OpenRouter chat completions over HTTP with bearer auth.",
}

func buildProvidersReferenceMarkdown() (string, error) {
	defaults := reflect.ValueOf(config.DefaultConfig().Providers)

	var b strings.Builder
	b.WriteString("# Provider Reference\n\n")
	b.WriteString("Select a backend with `agents.defaults.provider`. The default is `" + providers.DefaultProvider + "`.\n\n")

	for _, name := range providers.SupportedProviders() {
		field, ok := providerField(defaults, name)
		if !ok {
			return "", fmt.Errorf("provider %s has no config section", name)
		}
		rows, err := configRows(field, "providers."+name)
		if err != nil {
			return "", err
		}

		b.WriteString("## `" + name + "`\n\n")
		if summary := providerSummaries[name]; summary != "" {
			b.WriteString(summary + "\n\n")
		}
		b.WriteString("Requires `providers." + name + ".api_key`.\n\n")
		writeRowTable(&b, rows)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func providerField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonKey(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
