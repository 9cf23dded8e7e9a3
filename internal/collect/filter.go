package collect

import (
	"strings"

	"github.com/lotas/tabharvest/internal/session"
	"github.com/lotas/tabharvest/internal/types"
)

// FilterResources drops inline data URLs and URLs already seen in the
// session, counting each outcome. Accepted resources keep their order.
func FilterResources(s *session.Session, in []types.Resource) []types.Resource {
	var out []types.Resource
	for _, r := range in {
		switch {
		case strings.HasPrefix(r.Src, "data:"):
			s.Update(func(c *session.Counters) { c.ImagesFailed++ })
		case !s.MarkSeen(r.Src):
			s.Update(func(c *session.Counters) { c.ImagesSkipped++ })
		default:
			s.Update(func(c *session.Counters) { c.ImagesMatched++ })
			out = append(out, r)
		}
	}
	return out
}
