package domain

// Tag is a label in an address book's catalogue. Names are unique within a
// collection and persons refer to tags by name.
type Tag struct {
	Name string `json:"name" validate:"notblank,max=50"`
}

// TagNames returns the names of tags in order.
func TagNames(tags []Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}
