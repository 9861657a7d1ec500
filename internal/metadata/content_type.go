package metadata

import (
	"fmt"
	"regexp"
	"sort"
)

// Attribute types accepted on content types.
const (
	AttrString  = "string"
	AttrText    = "text"
	AttrInteger = "integer"
	AttrFloat   = "float"
	AttrBoolean = "boolean"
	AttrJSON    = "json"
)

// ContentType describes a collection of entries, e.g. api::article.article.
type ContentType struct {
	UID          string               `json:"uid"`
	SingularName string               `json:"singularName"`
	PluralName   string               `json:"pluralName"`
	DisplayName  string               `json:"displayName"`
	MainField    string               `json:"mainField,omitempty"` // shown in recent documents
	Attributes   map[string]Attribute `json:"attributes"`
	Rules        []Rule               `json:"rules,omitempty"`
}

type Attribute struct {
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	Default   any      `json:"default,omitempty"`
}

var singularNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// UIDFor returns the uid of an api content type with the given singular name.
func UIDFor(singularName string) string {
	return fmt.Sprintf("api::%s.%s", singularName, singularName)
}

// HasAttribute returns true if the content type declares the attribute.
func (ct *ContentType) HasAttribute(name string) bool {
	_, ok := ct.Attributes[name]
	return ok
}

// AttributeNames returns the declared attribute names in sorted order.
func (ct *ContentType) AttributeNames() []string {
	names := make([]string, 0, len(ct.Attributes))
	for name := range ct.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize fills derived fields (uid, plural and display names, main field).
func (ct *ContentType) Normalize() {
	if ct.UID == "" && ct.SingularName != "" {
		ct.UID = UIDFor(ct.SingularName)
	}
	if ct.PluralName == "" && ct.SingularName != "" {
		ct.PluralName = ct.SingularName + "s"
	}
	if ct.DisplayName == "" {
		ct.DisplayName = ct.SingularName
	}
	if ct.MainField == "" {
		for _, candidate := range []string{"title", "name"} {
			if ct.HasAttribute(candidate) {
				ct.MainField = candidate
				break
			}
		}
	}
}

// Validate checks the definition is usable.
func (ct *ContentType) Validate() error {
	if !singularNamePattern.MatchString(ct.SingularName) {
		return fmt.Errorf("singularName %q must be lowercase kebab-case", ct.SingularName)
	}
	if ct.UID != UIDFor(ct.SingularName) {
		return fmt.Errorf("uid %q does not match singularName %q", ct.UID, ct.SingularName)
	}
	if len(ct.Attributes) == 0 {
		return fmt.Errorf("content type %s has no attributes", ct.UID)
	}
	for name, attr := range ct.Attributes {
		if isReservedAttribute(name) {
			return fmt.Errorf("attribute %q is reserved", name)
		}
		switch attr.Type {
		case AttrString, AttrText, AttrInteger, AttrFloat, AttrBoolean, AttrJSON:
		default:
			return fmt.Errorf("attribute %q has unknown type %q", name, attr.Type)
		}
	}
	for i, r := range ct.Rules {
		switch r.Type {
		case RuleField:
			if !ct.HasAttribute(r.Field) {
				return fmt.Errorf("rule %d references unknown attribute %q", i, r.Field)
			}
		case RuleExpression:
			if r.Expression == "" {
				return fmt.Errorf("rule %d: expression is required", i)
			}
		default:
			return fmt.Errorf("rule %d has unknown type %q", i, r.Type)
		}
	}
	return nil
}

var reservedAttributes = map[string]bool{
	"id": true, "documentId": true, "createdAt": true, "updatedAt": true,
	"publishedAt": true, "createdBy": true, "updatedBy": true,
}

func isReservedAttribute(name string) bool {
	return reservedAttributes[name]
}
