package main

import (
	"strings"
	"testing"

	"bilregistret/internal/backends"
	"bilregistret/internal/records"
	"bilregistret/internal/viewmodel"
)

func settledVolvo() viewmodel.ViewModel {
	image := "https://x/y.jpg"
	return viewmodel.ViewModel{
		Plate: "ABC123",
		Phase: viewmodel.PhaseSuccess,
		MergedData: &records.Record{Car: records.SectionedTree(records.Section{
			Title: "Fordon",
			Data: records.FieldsFrom(
				records.F("Modell", records.String("V70")),
				records.F("Märke", records.String("Volvo")),
				records.F("Ägare", records.Strings("Anna", "Bo")),
			),
		})},
		CarImageURL: &image,
		Sources: map[backends.SourceID]viewmodel.SourceStatus{
			backends.SourceCL: viewmodel.StatusData,
			backends.SourceTS: viewmodel.StatusData,
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"human", FormatHuman, false},
		{"", FormatHuman, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOutputFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	_, err := ParseOutputFormat("xml")
	if exitCodeForError(err) != exitUsage {
		t.Errorf("unsupported format exit code = %d, want %d", exitCodeForError(err), exitUsage)
	}
}

func TestFormatSnapshot_JSON(t *testing.T) {
	out, err := FormatSnapshot(settledVolvo(), FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"phase": "settled-success"`) {
		t.Error("JSON output missing phase")
	}
	if strings.Index(out, `"Modell"`) > strings.Index(out, `"Märke"`) {
		t.Error("JSON output should keep field order")
	}
}

func TestFormatSnapshot_YAML(t *testing.T) {
	out, err := FormatSnapshot(settledVolvo(), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"plate: ABC123", "phase: settled-success", "title: Fordon", "Modell: V70"} {
		if !strings.Contains(out, want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Errorf("YAML output should use block style:\n%s", out)
	}
	if strings.Index(out, "Modell") > strings.Index(out, "Märke") {
		t.Error("YAML output should keep field order")
	}
}

func TestFormatSnapshot_Human(t *testing.T) {
	out, err := FormatSnapshot(settledVolvo(), FormatHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"ABC123  settled-success  (2/2 sources)",
		"Fordon\n  Modell: V70\n  Märke: Volvo\n  Ägare: Anna, Bo",
		"Image: https://x/y.jpg",
		"Sources: cl=data ts=data",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("human output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatSnapshot_HumanNoData(t *testing.T) {
	vm := viewmodel.ViewModel{Plate: "ABC123", Phase: viewmodel.PhaseBothPending, MergedData: &records.Record{}}
	out, err := FormatSnapshot(vm, FormatHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No data") {
		t.Errorf("expected No data marker:\n%s", out)
	}
}
