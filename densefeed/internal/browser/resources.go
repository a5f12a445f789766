package browser

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is configured as
// blocked. Config names are plural ("images"); CDP types are singular.
func blockResources(page *rod.Page, types []string, logger *slog.Logger) {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		blocked[resourceType(t)] = true
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		logger.Warn("browser: resource blocking", "error", err)
		return
	}
	go router.Run()
}

func resourceType(name string) proto.NetworkResourceType {
	switch n := strings.ToLower(name); n {
	case "images", "image":
		return proto.NetworkResourceTypeImage
	case "fonts", "font":
		return proto.NetworkResourceTypeFont
	case "media":
		return proto.NetworkResourceTypeMedia
	case "stylesheets", "stylesheet":
		return proto.NetworkResourceTypeStylesheet
	default:
		return proto.NetworkResourceType(strings.ToUpper(n[:1]) + n[1:])
	}
}
