package setupplugin

import "testing"

func TestLoadRejectsInvalidWASM(t *testing.T) {
	if _, err := Load([]byte("this is not a wasm module")); err == nil {
		t.Fatal("expected error loading invalid WASM data")
	}
}

func TestLoadRejectsEmptyData(t *testing.T) {
	if _, err := Load([]byte{}); err == nil {
		t.Fatal("expected error loading empty WASM data")
	}
}

func TestLoadRejectsNilData(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error loading nil WASM data")
	}
}
