package prerollvalve

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// TestCoreImports keeps the valve buildable without GStreamer or cgo, so
// record, config and control only depend on plain Go.
func TestCoreImports(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}

	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if path == "C" || strings.Contains(path, "go-gst") || strings.Contains(path, "go-glib") ||
				strings.HasSuffix(path, "/internal/gsthost") {
				t.Errorf("%s imports %q", name, path)
			}
		}
	}
}
