package domain

// AddressBook is a named collection of persons and its tag catalogue, as
// held by the remote.
type AddressBook struct {
	Name     string   `json:"name"`
	Persons  []Person `json:"persons"`
	Tags     []Tag    `json:"tags"`
	Revision int64    `json:"revision"`
}

// NewAddressBook returns an empty collection.
func NewAddressBook(name string) *AddressBook {
	return &AddressBook{Name: name, Persons: []Person{}, Tags: []Tag{}}
}

// PersonIndex returns the slice index of the person with id, or -1.
func (ab *AddressBook) PersonIndex(id int) int {
	for i := range ab.Persons {
		if ab.Persons[i].ID == id {
			return i
		}
	}
	return -1
}

// TagIndex returns the slice index of the named tag, or -1.
func (ab *AddressBook) TagIndex(name string) int {
	for i := range ab.Tags {
		if ab.Tags[i].Name == name {
			return i
		}
	}
	return -1
}

// NextPersonID is one more than the highest assigned id.
func (ab *AddressBook) NextPersonID() int {
	highest := 0
	for i := range ab.Persons {
		highest = max(highest, ab.Persons[i].ID)
	}
	return highest + 1
}

// Clone returns a deep copy.
func (ab *AddressBook) Clone() *AddressBook {
	c := &AddressBook{
		Name:     ab.Name,
		Persons:  make([]Person, len(ab.Persons)),
		Tags:     append([]Tag{}, ab.Tags...),
		Revision: ab.Revision,
	}
	for i := range ab.Persons {
		c.Persons[i] = ab.Persons[i].Clone()
	}
	return c
}
