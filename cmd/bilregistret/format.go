package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"bilregistret/internal/backends"
	"bilregistret/internal/records"
	"bilregistret/internal/viewmodel"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --format value
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatHuman, "":
		return FormatHuman, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("unsupported format: %s", s))
}

// FormatSnapshot renders one snapshot
func FormatSnapshot(vm viewmodel.ViewModel, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(vm)
	case FormatYAML:
		return formatYAML(vm)
	case FormatHuman:
		return formatHuman(vm), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatYAML goes through JSON so field order and the record shape match the
// JSON output exactly.
func formatYAML(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to convert to YAML: %w", err)
	}
	blockStyle(&doc)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// blockStyle drops the flow and quoting styles inherited from JSON
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

func formatHuman(vm viewmodel.ViewModel) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s  %s  (%d/2 sources)\n", vm.Plate, vm.Phase, vm.Completeness()))
	b.WriteString(strings.Repeat("=", 60) + "\n")

	if vm.IsError && vm.Error != nil {
		b.WriteString(fmt.Sprintf("Error (%s): %s\n", vm.ErrorClass, vm.Error.Error()))
	}

	if vm.MergedData != nil {
		writeTree(&b, vm.MergedData.Car)
	}

	if vm.CarImageURL != nil {
		b.WriteString(fmt.Sprintf("\nImage: %s\n", *vm.CarImageURL))
	}
	if vm.HighResImageURL != nil {
		b.WriteString(fmt.Sprintf("High-res image: %s\n", *vm.HighResImageURL))
	}

	if len(vm.Sources) > 0 {
		ids := make([]string, 0, len(vm.Sources))
		for id := range vm.Sources {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		b.WriteString("\nSources:")
		for _, id := range ids {
			b.WriteString(fmt.Sprintf(" %s=%s", id, vm.Sources[backends.SourceID(id)]))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTree(b *strings.Builder, tree records.Tree) {
	switch tree.Shape() {
	case records.ShapeSectioned:
		for _, section := range tree.Sections() {
			title := section.Title
			if title == "" {
				title = "(untitled)"
			}
			b.WriteString("\n" + title + "\n")
			writeFields(b, section.Data, "  ")
		}
	case records.ShapeFlat:
		b.WriteString("\n")
		writeFields(b, tree.Flat(), "  ")
	default:
		b.WriteString("\nNo data\n")
	}
}

func writeFields(b *strings.Builder, fields *records.Fields, indent string) {
	records.EachField(fields, func(name string, v records.Value) {
		b.WriteString(fmt.Sprintf("%s%s: %s\n", indent, name, humanValue(v)))
	})
}

func humanValue(v records.Value) string {
	switch v.Kind() {
	case records.KindScalar:
		return fmt.Sprint(v.ScalarValue())
	case records.KindList:
		items := make([]string, 0, len(v.ListValues()))
		for _, item := range v.ListValues() {
			items = append(items, humanValue(item))
		}
		return strings.Join(items, ", ")
	case records.KindObject:
		data, err := v.MarshalJSON()
		if err != nil {
			return "?"
		}
		return string(data)
	default:
		return "-"
	}
}
