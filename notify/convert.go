package notify

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/swcache"
)

func toStruct(n swcache.Notification) (*structpb.Struct, error) {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		"id":                  n.ID,
		"title":               n.Title,
		"body":                n.Body,
		"icon":                n.Icon,
		"badge":               n.Badge,
		"require_interaction": n.RequireInteraction,
		"data":                data,
		"created_at":          n.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// fromStruct is lenient: missing or mistyped fields read as zero values.
// Numbers inside data come back as float64.
func fromStruct(s *structpb.Struct) swcache.Notification {
	f := s.GetFields()
	n := swcache.Notification{
		ID:                 f["id"].GetStringValue(),
		Title:              f["title"].GetStringValue(),
		Body:               f["body"].GetStringValue(),
		Icon:               f["icon"].GetStringValue(),
		Badge:              f["badge"].GetStringValue(),
		RequireInteraction: f["require_interaction"].GetBoolValue(),
		Data:               f["data"].GetStructValue().AsMap(),
	}
	if t, err := time.Parse(time.RFC3339Nano, f["created_at"].GetStringValue()); err == nil {
		n.CreatedAt = t
	}
	return n
}
