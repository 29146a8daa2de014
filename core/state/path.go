package state

import "strings"

// ParsePath splits a URL-style state path into segments. Segments containing
// the separator are wrapped in double quotes at the boundary: a quoted span
// is kept as a single segment, everything else splits on "/". The route
// prefix (e.g. /api/state) is stripped before splitting.
//
// ParsePath("/api/state", `/api/state/"a/b"/c`) returns ["a/b", "c"].
func ParsePath(prefix, requestPath string) []string {
	quoteParts := strings.Split(requestPath, `"`)

	var segments []string
	for i, part := range quoteParts {
		if part == "" {
			continue
		}
		if i%2 == 0 {
			part = strings.Replace(part, prefix, "", 1)
			for _, seg := range strings.Split(part, "/") {
				if seg != "" {
					segments = append(segments, seg)
				}
			}
		} else {
			segments = append(segments, part)
		}
	}
	return segments
}
