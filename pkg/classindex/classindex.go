// Package classindex assigns a stable pixel value to every object class of a project
// and reads/writes the plain-text colour map shipped with label exports.
package classindex

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"volexport/internal/models"
)

// FileName is the name of the class-index artifact at the output project root.
const FileName = "cls_color_map.txt"

// MaxPixelValue is the largest value a uint8 label voxel can hold.
const MaxPixelValue = 255

// overrideMarker matches "pixel value: 7" or "Pixel value = 7" inside a class description.
var overrideMarker = regexp.MustCompile(`(?i)pixel\s+value\s*[:=]\s*(\S+)`)

// Entry is the assignment for one class.
type Entry struct {
	Name       string
	PixelValue uint8
	Color      [3]uint8
}

// Map is an immutable class name to pixel value mapping.
type Map struct {
	entries []Entry
	byName  map[string]int
}

// ParseOverride extracts an embedded pixel value from a class description.
// A missing or malformed value reports false.
func ParseOverride(description string) (uint8, bool) {
	m := overrideMarker.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimRight(m[1], ".,;"))
	if err != nil || v < 1 || v > MaxPixelValue {
		return 0, false
	}
	return uint8(v), true
}

// Assign builds the map for classes in project listing order. Classes with an
// override keep it; the rest get the smallest unused positive value in order.
// If two classes claim the same override, the later one is auto-assigned.
func Assign(classes []models.ObjectClass) (*Map, error) {
	used := make(map[uint8]bool, len(classes))
	values := make([]uint8, len(classes))
	for i, c := range classes {
		if v, ok := ParseOverride(c.Description); ok && !used[v] {
			values[i] = v
			used[v] = true
		}
	}

	next := uint8(1)
	for i := range classes {
		if values[i] != 0 {
			continue
		}
		for used[next] {
			if next == MaxPixelValue {
				return nil, fmt.Errorf("more than %d classes cannot be indexed", MaxPixelValue)
			}
			next++
		}
		values[i] = next
		used[next] = true
	}

	m := &Map{byName: make(map[string]int, len(classes))}
	for i, c := range classes {
		if _, dup := m.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate class name %q", c.Name)
		}
		m.byName[c.Name] = len(m.entries)
		m.entries = append(m.entries, Entry{Name: c.Name, PixelValue: values[i], Color: c.Color})
	}
	return m, nil
}

// PixelValue returns the value assigned to a class.
func (m *Map) PixelValue(name string) (uint8, bool) {
	i, ok := m.byName[name]
	if !ok {
		return 0, false
	}
	return m.entries[i].PixelValue, true
}

// Lookup returns the full entry for a class.
func (m *Map) Lookup(name string) (Entry, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Entries returns the assignments in class listing order.
func (m *Map) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of classes.
func (m *Map) Len() int {
	return len(m.entries)
}

// Lines renders the artifact lines, ordered by pixel value.
func (m *Map) Lines() []string {
	sorted := m.Entries()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PixelValue < sorted[j].PixelValue })
	lines := make([]string, 0, len(sorted))
	for _, e := range sorted {
		lines = append(lines, fmt.Sprintf("%d %s %d %d %d", e.PixelValue, e.Name, e.Color[0], e.Color[1], e.Color[2]))
	}
	return lines
}

// WriteFile writes the colour map artifact.
func (m *Map) WriteFile(path string) error {
	data := strings.Join(m.Lines(), "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("error writing class index: %w", err)
	}
	return nil
}

// ReadFile parses a colour map artifact. Class names may contain spaces; the
// first field is the pixel value and the last three are the colour.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("%s:%d: expected '<value> <name> <r> <g> <b>'", path, lineNo)
		}
		var nums [4]int
		for i, s := range []string{fields[0], fields[len(fields)-3], fields[len(fields)-2], fields[len(fields)-1]} {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 || n > 255 {
				return nil, fmt.Errorf("%s:%d: bad number %q", path, lineNo, s)
			}
			nums[i] = n
		}
		entries = append(entries, Entry{
			Name:       strings.Join(fields[1:len(fields)-3], " "),
			PixelValue: uint8(nums[0]),
			Color:      [3]uint8{uint8(nums[1]), uint8(nums[2]), uint8(nums[3])},
		})
	}
	return entries, sc.Err()
}
