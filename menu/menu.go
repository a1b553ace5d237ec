// Package menu builds the moderation center and profile navigation trees.
// Definitions are static; Build prunes them against the current member's
// permissions on every request and resolves the selected area.
package menu

import (
	"errors"
	"strings"

	"forumd/auth"

	"github.com/samber/lo"
)

// ErrNoAccess is returned when no area of a menu is visible to the member.
var ErrNoAccess = errors.New("no accessible menu areas")

type Subsection struct {
	Key        string
	Label      string
	Permission []string
	Disabled   bool
	Default    bool
}

type Area struct {
	Key         string
	Label       string
	Path        string
	Permission  []string
	Disabled    bool
	Custom      func(*auth.Permissions) bool
	Subsections []Subsection

	// Hidden areas can be selected directly but are not listed.
	Hidden bool

	Href     string
	Selected bool
}

type Section struct {
	Key        string
	Title      string
	Permission []string
	Areas      []Area
}

// Menu is a pruned menu with the current selection resolved.
type Menu struct {
	Sections       []Section
	CurrentSection string
	CurrentArea    string
	CurrentSA      string
	Area           *Area

	visible map[string]bool
}

// Options controls selection and link generation.
type Options struct {
	Area      string
	Subaction string
	// Replacer expands placeholders such as {id} in area paths.
	Replacer *strings.Replacer
}

func permitted(p *auth.Permissions, perms []string) bool {
	return len(perms) == 0 || p.AllowedTo(perms...)
}

func (a *Area) visible(p *auth.Permissions) bool {
	if a.Disabled || !permitted(p, a.Permission) {
		return false
	}
	return a.Custom == nil || a.Custom(p)
}

// VisibleSubsections returns the subsections the member may open, in order.
func (a *Area) VisibleSubsections(p *auth.Permissions) []Subsection {
	return lo.Filter(a.Subsections, func(s Subsection, _ int) bool {
		return !s.Disabled && permitted(p, s.Permission)
	})
}

// Build prunes defs for p and selects the requested area and subaction,
// falling back to the first visible ones.
func Build(defs []Section, p *auth.Permissions, opts Options) (*Menu, error) {
	m := &Menu{visible: make(map[string]bool)}
	var first, requested *Area
	var firstSection, requestedSection string

	for _, sec := range defs {
		if !permitted(p, sec.Permission) {
			continue
		}
		out := Section{Key: sec.Key, Title: sec.Title}
		for _, area := range sec.Areas {
			if !area.visible(p) {
				continue
			}
			area.Subsections = area.VisibleSubsections(p)
			if opts.Replacer != nil {
				area.Href = opts.Replacer.Replace(area.Path)
			} else {
				area.Href = area.Path
			}
			out.Areas = append(out.Areas, area)
			m.visible[area.Key] = true
		}
		if len(out.Areas) == 0 {
			continue
		}
		m.Sections = append(m.Sections, out)
	}

	for si := range m.Sections {
		sec := &m.Sections[si]
		for ai := range sec.Areas {
			area := &sec.Areas[ai]
			if first == nil && !area.Hidden {
				first, firstSection = area, sec.Key
			}
			if requested == nil && area.Key == opts.Area {
				requested, requestedSection = area, sec.Key
			}
		}
	}

	switch {
	case requested != nil:
		m.Area, m.CurrentSection = requested, requestedSection
	case first != nil:
		m.Area, m.CurrentSection = first, firstSection
	default:
		return nil, ErrNoAccess
	}
	m.Area.Selected = true
	m.CurrentArea = m.Area.Key
	m.CurrentSA = selectSubaction(m.Area.Subsections, opts.Subaction)

	// Hidden areas stay selectable but are dropped from the listing.
	for si := range m.Sections {
		m.Sections[si].Areas = lo.Filter(m.Sections[si].Areas, func(a Area, _ int) bool {
			return !a.Hidden || a.Selected
		})
	}
	m.Sections = lo.Filter(m.Sections, func(s Section, _ int) bool { return len(s.Areas) > 0 })
	return m, nil
}

func selectSubaction(subs []Subsection, requested string) string {
	if len(subs) == 0 {
		return requested
	}
	for _, s := range subs {
		if s.Key == requested {
			return s.Key
		}
	}
	for _, s := range subs {
		if s.Default {
			return s.Key
		}
	}
	return subs[0].Key
}

// Allowed reports whether the named area, hidden or not, is open to the member.
func (m *Menu) Allowed(areaKey string) bool {
	return m.visible[areaKey]
}
