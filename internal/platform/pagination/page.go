package pagination

// Page slices items according to params. id identifies an item for the cursor so that a page
// boundary survives items being inserted ahead of it between requests. nextToken is empty on the
// last page.
func Page[T any](items []T, params Params, id func(T) string) (page []T, nextToken string, err error) {
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	start := params.Cursor.Offset
	if after := params.Cursor.After; after != "" {
		for i, item := range items {
			if id(item) == after {
				start = i + 1
				break
			}
		}
	}
	if start >= len(items) {
		return []T{}, "", nil
	}

	end := start + size
	if end >= len(items) {
		return items[start:], "", nil
	}
	page = items[start:end]
	nextToken, err = EncodeToken(Cursor{After: id(page[len(page)-1]), Offset: end})
	if err != nil {
		return nil, "", err
	}
	return page, nextToken, nil
}
