package types

import "testing"

func TestFormatValid(t *testing.T) {
	for _, f := range []Format{FormatPDF, FormatEPUB, FormatTXT} {
		if !f.Valid() {
			t.Errorf("%q.Valid() = false, want true", f)
		}
	}
	for _, f := range []Format{"", "mobi", "PDF", "text"} {
		if f.Valid() {
			t.Errorf("%q.Valid() = true, want false", f)
		}
	}
}

func TestParseFormat(t *testing.T) {
	got, err := ParseFormat("epub")
	if err != nil || got != FormatEPUB {
		t.Errorf("ParseFormat(epub) = (%q, %v), want (epub, nil)", got, err)
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Error("ParseFormat(docx) = nil error, want error")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%q.Terminal() = false, want true", s)
		}
	}
	for _, s := range []State{StatePending, StateExtracting, StateSegmenting, StateSynthesizing, StatePackaging} {
		if s.Terminal() {
			t.Errorf("%q.Terminal() = true, want false", s)
		}
	}
}
