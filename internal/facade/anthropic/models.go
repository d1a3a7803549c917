package anthropic

import (
	"encoding/json"
	"net/http"
	"strings"

	anthropicproto "claude-bridge/internal/proto/anthropic"
)

// listModels reports the configured routes. Wildcard patterns are
// routing rules, not models, so they are not listed.
func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	list := anthropicproto.ModelList{Data: []anthropicproto.ModelInfo{}}
	for _, e := range h.reg.Entries() {
		if strings.Contains(e.ID, "*") {
			continue
		}
		list.Data = append(list.Data, anthropicproto.ModelInfo{
			Type:        "model",
			ID:          e.ID,
			DisplayName: e.UpstreamModel,
		})
	}
	if len(list.Data) > 0 {
		list.FirstID = &list.Data[0].ID
		list.LastID = &list.Data[len(list.Data)-1].ID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(list)
}
