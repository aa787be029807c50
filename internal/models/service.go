package models

import "strings"

const DefaultService = "General Inquiry"

type Service struct {
	Name    string `json:"name" yaml:"name"`
	Default bool   `json:"default,omitempty" yaml:"default"`
}

// Catalog is the configurable set of service tags a ticket may carry.
type Catalog struct {
	Services []Service `json:"services" yaml:"services"`
}

func NewCatalog(names []string, defaultName string) Catalog {
	defaultName = strings.TrimSpace(defaultName)
	if defaultName == "" {
		defaultName = DefaultService
	}
	catalog := Catalog{}
	seen := make(map[string]bool)
	hasDefault := false
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		isDefault := name == defaultName
		if isDefault {
			hasDefault = true
		}
		catalog.Services = append(catalog.Services, Service{Name: name, Default: isDefault})
	}
	if !hasDefault {
		catalog.Services = append([]Service{{Name: defaultName, Default: true}}, catalog.Services...)
	}
	return catalog
}

func (c Catalog) Default() string {
	for _, service := range c.Services {
		if service.Default {
			return service.Name
		}
	}
	if len(c.Services) > 0 {
		return c.Services[0].Name
	}
	return DefaultService
}

// Resolve maps a requested service to a catalog entry. Empty selects the default.
func (c Catalog) Resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.Default(), true
	}
	if len(c.Services) == 0 {
		return name, name == DefaultService
	}
	for _, service := range c.Services {
		if strings.EqualFold(service.Name, name) {
			return service.Name, true
		}
	}
	return "", false
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Services))
	for _, service := range c.Services {
		names = append(names, service.Name)
	}
	return names
}
