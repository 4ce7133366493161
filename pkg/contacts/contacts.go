// Package contacts is the desk's phone directory.
package contacts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed contacts.yaml
var defaultYAML []byte

type Contact struct {
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone" json:"phone"`
}

// TelURI returns a tel: link for the contact's number.
func (c Contact) TelURI() string {
	var b strings.Builder
	for i, r := range c.Phone {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return "tel:" + b.String()
}

type file struct {
	Contacts []Contact `yaml:"contacts"`
}

// Parse reads a directory document. Entries without a name or phone are
// rejected.
func Parse(data []byte) ([]Contact, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	for i, c := range f.Contacts {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
			return nil, fmt.Errorf("contact %d: name and phone are required", i+1)
		}
	}
	return f.Contacts, nil
}

// Default returns the built-in directory.
func Default() []Contact {
	list, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return list
}

// Load reads the directory from path, or returns the built-in one when path
// is empty.
func Load(path string) ([]Contact, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}
	return Parse(data)
}
