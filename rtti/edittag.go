package rtti

import "strings"

const DefaultTagName = "edit"

// EditMetadata holds the field-level edit attributes.
type EditMetadata struct {
	DisplayName string
	Description string
	Group       string
	ReadOnly    bool
	Hidden      bool

	// ElemType names the payload type of dynamically typed container
	// elements, as understood by Registry.TypeByName.
	ElemType string

	Attrs map[string]string
}

func (em *EditMetadata) Attr(key string) string {
	if em == nil {
		return ""
	}
	return em.Attrs[key]
}

func (em *EditMetadata) String() string {
	if em == nil {
		return "<none>"
	}
	var buf strings.Builder
	sep := func() {
		if buf.Len() > 0 {
			buf.WriteByte(',')
		}
	}
	if em.DisplayName != "" {
		sep()
		buf.WriteString("name=" + em.DisplayName)
	}
	if em.Group != "" {
		sep()
		buf.WriteString("group=" + em.Group)
	}
	if em.ElemType != "" {
		sep()
		buf.WriteString("elemtype=" + em.ElemType)
	}
	if em.ReadOnly {
		sep()
		buf.WriteString("readonly")
	}
	if em.Hidden {
		sep()
		buf.WriteString("hidden")
	}
	return buf.String()
}

// parseEditTag parses `name=Foo,group=Bar,readonly`. The second result is
// false for a `-` tag, which excludes the field.
func parseEditTag(tag string) (*EditMetadata, bool) {
	if tag == "-" {
		return nil, false
	}
	if tag == "" {
		return nil, true
	}
	em := &EditMetadata{}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, hasValue := splitByte(part, '=')
		switch k {
		case "name":
			em.DisplayName = v
		case "desc":
			em.Description = v
		case "group":
			em.Group = v
		case "readonly":
			em.ReadOnly = !hasValue || v == "true"
		case "hidden":
			em.Hidden = !hasValue || v == "true"
		case "elemtype":
			em.ElemType = v
		default:
			if em.Attrs == nil {
				em.Attrs = make(map[string]string)
			}
			em.Attrs[k] = v
		}
	}
	return em, true
}

// MergeEditMetadata returns the attributes of child overlaid on the
// inheritable attributes of parent (ReadOnly and Hidden).
func MergeEditMetadata(parent, child *EditMetadata) *EditMetadata {
	if parent == nil || (!parent.ReadOnly && !parent.Hidden) {
		return child
	}
	if child != nil && (child.ReadOnly || !parent.ReadOnly) && (child.Hidden || !parent.Hidden) {
		return child
	}
	var em EditMetadata
	if child != nil {
		em = *child
	}
	em.ReadOnly = em.ReadOnly || parent.ReadOnly
	em.Hidden = em.Hidden || parent.Hidden
	return &em
}
