package domains

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OverrideFile is the on-disk shape of domains.yaml. Deployments use it to
// add enterprise endpoints, ban destinations, or drop a built-in entry.
type OverrideFile struct {
	APIDomains         []OverrideEntry `yaml:"api_domains"`
	WebUIDomains       []OverrideEntry `yaml:"web_ui_domains"`
	PassthroughDomains []OverrideEntry `yaml:"passthrough_domains"`
	DesktopAppDomains  []string        `yaml:"desktop_app_domains"`
	Remove             []string        `yaml:"remove"`
}

// OverrideEntry is one custom table row.
type OverrideEntry struct {
	Domain string `yaml:"domain"`
	Tool   string `yaml:"tool"`
	Class  string `yaml:"class"`
}

// LoadOverrides reads and applies a domains.yaml file on top of the built-in
// table. A missing path returns the table unchanged.
func LoadOverrides(t *Table, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read domains override file %s: %w", path, err)
	}

	var file OverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse domains override file %s: %w", path, err)
	}
	return applyOverrides(t, &file)
}

func applyOverrides(t *Table, file *OverrideFile) error {
	apply := func(m map[string]Entry, entries []OverrideEntry, defaultClass Class) error {
		for _, oe := range entries {
			host := NormalizeHost(oe.Domain)
			if host == "" {
				return fmt.Errorf("override entry with empty domain")
			}
			class := defaultClass
			if oe.Class != "" {
				if !ValidClass(oe.Class) {
					return fmt.Errorf("override for %s names unknown class %q", host, oe.Class)
				}
				class = Class(oe.Class)
			}
			tool := oe.Tool
			if tool == "" {
				tool = host
			}
			m[host] = Entry{Domain: host, Tool: tool, Class: class}
		}
		return nil
	}

	if err := apply(t.api, file.APIDomains, ClassPublicAI); err != nil {
		return err
	}
	if err := apply(t.webUI, file.WebUIDomains, ClassPublicAI); err != nil {
		return err
	}
	if err := apply(t.passthrough, file.PassthroughDomains, ClassUnknown); err != nil {
		return err
	}
	for _, d := range file.DesktopAppDomains {
		t.desktopApps[NormalizeHost(d)] = struct{}{}
	}
	for _, d := range file.Remove {
		host := NormalizeHost(d)
		delete(t.api, host)
		delete(t.webUI, host)
		delete(t.passthrough, host)
		delete(t.desktopApps, host)
	}
	return nil
}
