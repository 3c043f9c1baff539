package remote

// NoPage marks a page link that does not exist.
const NoPage = -1

// DefaultPerPage applies when a list query does not name a page size.
const DefaultPerPage = 100

// Page locates one page of a list. Start and End bound the slice window;
// the link fields hold page numbers or NoPage.
type Page struct {
	Number int
	Start  int
	End    int
	First  int
	Prev   int
	Next   int
	Last   int
	Valid  bool
}

// Paginate computes the window and links for page of a list holding total
// items, perPage at a time. Last is ceil(total/perPage). Pages below 1 are
// read as page 1, and page 1 is always valid even for an empty list. Any
// other page past Last yields an empty window and no links.
func Paginate(total, perPage, page int) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page < 1 {
		page = 1
	}

	last := (total + perPage - 1) / perPage

	p := Page{Number: page, First: NoPage, Prev: NoPage, Next: NoPage, Last: NoPage}
	if page != 1 && page > last {
		return p
	}

	p.Valid = true
	p.First = 1
	p.Last = last
	if page > p.First {
		p.Prev = page - 1
	}
	if page < last {
		p.Next = page + 1
	}
	p.Start = min((page-1)*perPage, total)
	p.End = min(page*perPage, total)
	return p
}

// Slice returns the page's window of items.
func Slice[T any](items []T, p Page) []T {
	if !p.Valid || p.Start == p.End {
		return []T{}
	}
	return items[p.Start:p.End]
}
