package hook

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
)

// Report is the result of Inspect.
type Report struct {
	Files    []FileReport
	Warnings []string
}

// FileReport describes one hook file or manifest.
type FileReport struct {
	Path     string
	Handlers []event.SubscriptionInfo
	Err      error
}

// OK reports whether every file compiled.
func (r Report) OK() bool {
	for _, f := range r.Files {
		if f.Err != nil {
			return false
		}
	}
	return true
}

// Inspect compiles the hook files in dirs without registering anything. It
// reports compile and manifest errors, duplicate handler names, and
// dependencies on handlers that neither the hooks nor known declare.
func Inspect(dirs []string, engines []script.Engine, known ...string) Report {
	var report Report
	names := make(map[string]string)
	for _, name := range known {
		names[name] = "builtin"
	}

	for _, dir := range dirs {
		manifest, err := LoadManifest(dir)
		if err == nil {
			err = manifest.Check(script.APIVersion)
		}
		if err != nil {
			report.Files = append(report.Files, FileReport{Path: filepath.Join(dir, ManifestFile), Err: err})
			continue
		}

		paths, err := ScanDir(dir, engines)
		if err != nil {
			report.Files = append(report.Files, FileReport{Path: dir, Err: err})
			continue
		}
		for _, path := range paths {
			fr := inspectFile(path, engines, manifest)
			for _, info := range fr.Handlers {
				if prev, dup := names[info.Name]; dup {
					fr.Err = fmt.Errorf("handler %q already declared in %s", info.Name, prev)
					continue
				}
				names[info.Name] = path
			}
			report.Files = append(report.Files, fr)
		}
	}

	for _, fr := range report.Files {
		for _, info := range fr.Handlers {
			for _, dep := range info.Dependencies {
				if _, ok := names[dep]; !ok {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("%s: handler %q depends on unknown handler %q", fr.Path, info.Name, dep))
				}
			}
		}
	}
	return report
}

func inspectFile(path string, engines []script.Engine, manifest *Manifest) FileReport {
	fr := FileReport{Path: path}
	engine, err := script.EngineFor(engines, path)
	if err != nil {
		fr.Err = err
		return fr
	}
	src, err := os.ReadFile(path)
	if err != nil {
		fr.Err = err
		return fr
	}
	unit, err := engine.Compile(path, src)
	if err != nil {
		fr.Err = err
		return fr
	}
	for _, d := range unit.Handlers() {
		d = manifest.Apply(d, path)
		fr.Handlers = append(fr.Handlers, d.Info(path, engine.Runtime()))
	}
	return fr
}
