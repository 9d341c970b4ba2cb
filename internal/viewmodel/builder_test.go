package viewmodel

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bilregistret/internal/backends"
	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

const plate = records.VehicleKey("ABC123")

func section(title string, fields ...records.Field) records.Section {
	return records.Section{Title: title, Data: records.FieldsFrom(fields...)}
}

func dataOutcome(src backends.SourceID, rec records.SourceRecord) backends.Outcome {
	return backends.Outcome{Key: plate, Source: src, Kind: backends.OutcomeData, Record: rec}
}

func failOutcome(src backends.SourceID, err error) backends.Outcome {
	return backends.Outcome{Key: plate, Source: src, Kind: backends.OutcomeFailure, Err: err}
}

func emptyOutcome(src backends.SourceID, err error) backends.Outcome {
	return backends.Outcome{Key: plate, Source: src, Kind: backends.OutcomeEmpty, Err: err}
}

func clRecord() records.SourceRecord {
	return records.SourceRecord{
		Car: records.SectionedTree(section("Fordon", records.F("Märke", records.String("Volvo")))),
		ImageInfo: map[string]records.Value{
			"Car Image": records.String("https://x/y.jpg"),
			"high_res":  records.String("https://x/y@2x.jpg"),
		},
	}
}

func tsRecord() records.SourceRecord {
	return records.SourceRecord{
		Car: records.SectionedTree(section("Fordon",
			records.F("Märke", records.String("Volvo")),
			records.F("Modell", records.String("V70")),
		)),
	}
}

func apply(t *testing.T, b *Builder, o backends.Outcome) ViewModel {
	t.Helper()
	vm, changed := b.Apply(o)
	if !changed {
		t.Fatalf("Apply(%s %s) reported no change", o.Source, o.Kind)
	}
	return vm
}

func TestStartIsLoading(t *testing.T) {
	b := NewBuilder(nil)
	if vm := b.Snapshot(); vm.Phase != PhaseIdle || vm.IsLoading {
		t.Fatalf("new builder = %+v", vm)
	}
	vm := b.Start(plate)
	if vm.Phase != PhaseBothPending || !vm.IsLoading || vm.HasData() {
		t.Errorf("started = %+v", vm)
	}
	if vm.Sources[backends.SourceCL] != StatusPending || vm.Sources[backends.SourceTS] != StatusPending {
		t.Errorf("sources = %v", vm.Sources)
	}
}

func TestBothSourcesMergeIntoOneSection(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	apply(t, b, dataOutcome(backends.SourceCL, clRecord()))
	vm := apply(t, b, dataOutcome(backends.SourceTS, tsRecord()))

	if vm.Phase != PhaseSuccess || vm.IsLoading || vm.IsError {
		t.Fatalf("final = %+v", vm)
	}
	want := records.SectionedTree(section("Fordon",
		records.F("Märke", records.String("Volvo")),
		records.F("Modell", records.String("V70")),
	))
	if diff := cmp.Diff(want, vm.MergedData.Car); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if v, ok := vm.Field("Modell"); !ok || !v.Equal(records.String("V70")) {
		t.Errorf("flattened Modell = %v, %v", v.Interface(), ok)
	}
}

func TestImageSourceNotFoundKeepsTSData(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	apply(t, b, failOutcome(backends.SourceCL, errors.NewNotFound("cl", "ABC123")))
	vm := apply(t, b, dataOutcome(backends.SourceTS, tsRecord()))

	if vm.IsError || vm.Phase != PhaseSuccess {
		t.Fatalf("final = %+v", vm)
	}
	if diff := cmp.Diff(tsRecord().Car, vm.MergedData.Car); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if vm.CarImageURL != nil || vm.HighResImageURL != nil {
		t.Errorf("images = %v, %v; want none", vm.CarImageURL, vm.HighResImageURL)
	}
	if vm.Sources[backends.SourceCL] != StatusFailed {
		t.Errorf("cl status = %s", vm.Sources[backends.SourceCL])
	}
}

func TestBothNotFoundSettlesAsError(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	vm := apply(t, b, failOutcome(backends.SourceCL, errors.NewNotFound("cl", "ABC123")))
	if vm.IsError || vm.Phase != PhaseOnePending || !vm.IsLoading {
		t.Fatalf("one failure should not be visible yet: %+v", vm)
	}
	vm = apply(t, b, failOutcome(backends.SourceTS, errors.NewNotFound("ts", "ABC123")))

	if !vm.IsError || vm.Phase != PhaseError || vm.IsLoading {
		t.Fatalf("final = %+v", vm)
	}
	if vm.ErrorClass != errors.ClassNoResults {
		t.Errorf("class = %s", vm.ErrorClass)
	}

	out, err := json.Marshal(vm)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, part := range []string{`"mergedData":{"car":null}`, `"isError":true`, `"code":"NOT_FOUND"`, `"carImageUrl":null`} {
		if !strings.Contains(string(out), part) {
			t.Errorf("json %s missing %s", out, part)
		}
	}
}

func TestImageStableAcrossMerge(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	early := apply(t, b, dataOutcome(backends.SourceCL, clRecord()))
	if early.CarImageURL == nil || *early.CarImageURL != "https://x/y.jpg" {
		t.Fatalf("early image = %v", early.CarImageURL)
	}
	if !early.HasData() || early.IsLoading {
		t.Fatalf("early snapshot should show CL data: %+v", early)
	}

	ts := tsRecord()
	ts.ImageInfo = map[string]records.Value{"Car Image": records.String("https://other/z.jpg")}
	final := apply(t, b, dataOutcome(backends.SourceTS, ts))

	if final.CarImageURL == nil || *final.CarImageURL != "https://x/y.jpg" {
		t.Errorf("final image = %v, TS must not change it", final.CarImageURL)
	}
	if final.HighResImageURL == nil || *final.HighResImageURL != "https://x/y@2x.jpg" {
		t.Errorf("high res = %v", final.HighResImageURL)
	}
}

func TestTSValuesWin(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	cl := records.SourceRecord{Car: records.SectionedTree(
		section("Ägare", records.F("Namn", records.String("Anna"))),
		section("Fordon", records.F("Färg", records.String("Röd"))),
	)}
	ts := records.SourceRecord{Car: records.SectionedTree(
		section("Fordon", records.F("Färg", records.String("Blå")), records.F("Modell", records.Null())),
	)}
	apply(t, b, dataOutcome(backends.SourceTS, ts))
	vm := apply(t, b, dataOutcome(backends.SourceCL, cl))

	if diff := cmp.Diff([]string{"Fordon", "Ägare"}, vm.MergedData.Car.SectionTitles()); diff != "" {
		t.Errorf("TS layout should lead (-want +got):\n%s", diff)
	}
	if v, _ := vm.Field("Färg"); !v.Equal(records.String("Blå")) {
		t.Errorf("Färg = %v, want TS value", v.Interface())
	}
	if _, ok := vm.Field("Namn"); !ok {
		t.Error("CL-only section should be kept")
	}
}

func TestMutualFailureAggregation(t *testing.T) {
	tests := []struct {
		name      string
		cl, ts    backends.Outcome
		wantError bool
		wantCode  errors.ErrorCode
		wantClass errors.Class
	}{
		{
			name:      "network beats not found",
			cl:        failOutcome(backends.SourceCL, errors.NewNetworkFailure("cl", nil)),
			ts:        failOutcome(backends.SourceTS, errors.NewNotFound("ts", "ABC123")),
			wantError: true,
			wantCode:  errors.NetworkFailure,
			wantClass: errors.ClassNetwork,
		},
		{
			name:      "both unauthorized",
			cl:        failOutcome(backends.SourceCL, errors.NewUnauthorized("cl", 401)),
			ts:        failOutcome(backends.SourceTS, errors.NewUnauthorized("ts", 403)),
			wantError: true,
			wantCode:  errors.Unauthorized,
			wantClass: errors.ClassUnauthorized,
		},
		{
			name: "both malformed is an empty success",
			cl:   emptyOutcome(backends.SourceCL, errors.NewMalformed("cl", nil)),
			ts:   emptyOutcome(backends.SourceTS, errors.NewMalformed("ts", nil)),
		},
		{
			name: "one empty and one not found is an empty success",
			cl:   emptyOutcome(backends.SourceCL, nil),
			ts:   failOutcome(backends.SourceTS, errors.NewNotFound("ts", "ABC123")),
		},
		{
			name: "malformed and network failure is an empty success",
			cl:   failOutcome(backends.SourceCL, errors.NewNetworkFailure("cl", nil)),
			ts:   emptyOutcome(backends.SourceTS, errors.NewMalformed("ts", nil)),
		},
		{
			name: "malformed never blocks the other source",
			cl:   emptyOutcome(backends.SourceCL, errors.NewMalformed("cl", nil)),
			ts:   dataOutcome(backends.SourceTS, tsRecord()),
		},
		{
			name: "one failure is a success",
			cl:   dataOutcome(backends.SourceCL, clRecord()),
			ts:   failOutcome(backends.SourceTS, errors.NewUnauthorized("ts", 401)),
		},
		{
			name: "both empty is an empty success",
			cl:   emptyOutcome(backends.SourceCL, nil),
			ts:   emptyOutcome(backends.SourceTS, nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(nil)
			b.Start(plate)
			apply(t, b, tt.cl)
			vm := apply(t, b, tt.ts)

			if !vm.Settled() {
				t.Fatalf("phase = %s, want settled", vm.Phase)
			}
			if vm.IsError != tt.wantError {
				t.Fatalf("isError = %v, want %v", vm.IsError, tt.wantError)
			}
			if tt.wantError {
				if vm.Error.Code != tt.wantCode || vm.ErrorClass != tt.wantClass {
					t.Errorf("error = %v (%s)", vm.Error, vm.ErrorClass)
				}
				if vm.MergedData == nil || !vm.MergedData.Car.IsEmpty() {
					t.Errorf("error state must carry a null car")
				}
				return
			}
			if vm.Error != nil {
				t.Errorf("unexpected error %v", vm.Error)
			}
		})
	}
}

// TestMonotonicCompleteness drives every pair of outcome kinds in both
// orders and checks no snapshot goes back to loading after showing data.
func TestMonotonicCompleteness(t *testing.T) {
	kinds := map[string]func(backends.SourceID) backends.Outcome{
		"data": func(src backends.SourceID) backends.Outcome {
			if src == backends.SourceCL {
				return dataOutcome(src, clRecord())
			}
			return dataOutcome(src, tsRecord())
		},
		"empty": func(src backends.SourceID) backends.Outcome { return emptyOutcome(src, nil) },
		"malformed": func(src backends.SourceID) backends.Outcome {
			return emptyOutcome(src, errors.NewMalformed(string(src), nil))
		},
		"failure": func(src backends.SourceID) backends.Outcome {
			return failOutcome(src, errors.NewNetworkFailure(string(src), nil))
		},
	}

	for clName, clKind := range kinds {
		for tsName, tsKind := range kinds {
			for _, clFirst := range []bool{true, false} {
				order := []backends.Outcome{clKind(backends.SourceCL), tsKind(backends.SourceTS)}
				if !clFirst {
					order[0], order[1] = order[1], order[0]
				}
				name := clName + "/" + tsName
				if !clFirst {
					name += "/ts-first"
				}
				t.Run(name, func(t *testing.T) {
					b := NewBuilder(nil)
					snapshots := []ViewModel{b.Start(plate)}
					for _, o := range order {
						snapshots = append(snapshots, apply(t, b, o))
					}

					seenData := false
					for i, vm := range snapshots {
						if seenData && vm.IsLoading {
							t.Fatalf("snapshot %d regressed to loading", i)
						}
						if seenData && !vm.HasData() {
							t.Fatalf("snapshot %d lost data", i)
						}
						if i > 0 && vm.Completeness() < snapshots[i-1].Completeness() {
							t.Fatalf("snapshot %d completeness decreased", i)
						}
						seenData = seenData || vm.HasData()
					}

					final := snapshots[len(snapshots)-1]
					if !final.Settled() {
						t.Fatalf("final phase = %s", final.Phase)
					}
					anyData := clName == "data" || tsName == "data"
					if final.HasData() != anyData {
						t.Errorf("final hasData = %v, want %v", final.HasData(), anyData)
					}
					bothFailed := clName == "failure" && tsName == "failure"
					if final.IsError != bothFailed {
						t.Errorf("final isError = %v, want %v", final.IsError, bothFailed)
					}
				})
			}
		}
	}
}

func TestApplyIgnores(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		b := NewBuilder(nil)
		if _, changed := b.Apply(dataOutcome(backends.SourceCL, clRecord())); changed {
			t.Error("idle builder should ignore outcomes")
		}
	})

	t.Run("stale plate", func(t *testing.T) {
		b := NewBuilder(nil)
		b.Start("XYZ999")
		before := b.Snapshot()
		vm, changed := b.Apply(dataOutcome(backends.SourceCL, clRecord()))
		if changed || vm.HasData() || vm.Phase != before.Phase {
			t.Errorf("stale outcome changed the model: %+v", vm)
		}
	})

	t.Run("duplicate delivery", func(t *testing.T) {
		b := NewBuilder(nil)
		b.Start(plate)
		apply(t, b, failOutcome(backends.SourceCL, errors.NewNotFound("cl", "ABC123")))
		if _, changed := b.Apply(dataOutcome(backends.SourceCL, clRecord())); changed {
			t.Error("second CL outcome should be ignored")
		}
	})

	t.Run("after settling", func(t *testing.T) {
		b := NewBuilder(nil)
		b.Start(plate)
		apply(t, b, dataOutcome(backends.SourceCL, clRecord()))
		apply(t, b, dataOutcome(backends.SourceTS, tsRecord()))
		if _, changed := b.Apply(dataOutcome("other", clRecord())); changed {
			t.Error("settled builder should ignore outcomes")
		}
	})

	t.Run("restart clears state", func(t *testing.T) {
		b := NewBuilder(nil)
		b.Start(plate)
		apply(t, b, dataOutcome(backends.SourceCL, clRecord()))
		vm := b.Start("XYZ999")
		if vm.HasData() || !vm.IsLoading || vm.Plate != "XYZ999" {
			t.Errorf("restart = %+v", vm)
		}
	})
}

func TestImageFailed(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)
	apply(t, b, dataOutcome(backends.SourceCL, clRecord()))

	vm, changed := b.ImageFailed()
	if !changed || vm.CarImageURL != nil {
		t.Fatalf("ImageFailed = %v, %v", vm.CarImageURL, changed)
	}
	if vm.HighResImageURL == nil {
		t.Error("high res URL should survive a display failure")
	}
	if _, changed := b.ImageFailed(); changed {
		t.Error("second failure should be a no-op")
	}

	vm = apply(t, b, dataOutcome(backends.SourceTS, tsRecord()))
	if vm.CarImageURL != nil {
		t.Error("failed image came back after merge")
	}
}

func TestImageFailedBeforeAnyImage(t *testing.T) {
	b := NewBuilder(nil)
	b.Start(plate)

	if _, changed := b.ImageFailed(); changed {
		t.Fatal("hint with no display image should change nothing")
	}
	vm := apply(t, b, dataOutcome(backends.SourceCL, clRecord()))
	if vm.CarImageURL == nil || *vm.CarImageURL != "https://x/y.jpg" {
		t.Fatalf("carImageUrl = %v, want the CL image", vm.CarImageURL)
	}

	// a failure of the image actually shown still hides it
	vm, changed := b.ImageFailed()
	if !changed || vm.CarImageURL != nil {
		t.Errorf("ImageFailed = %v, %v", vm.CarImageURL, changed)
	}
}
