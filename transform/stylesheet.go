package transform

import (
	_ "embed"
	"fmt"

	"github.com/hazyhaar/densefeed/dom"
)

// StylesheetID is the id of the injected <style> element.
const StylesheetID = "ux-fixer-styles"

//go:embed content.css
var stylesheet string

// Stylesheet returns the base layout overrides injected once per page.
func Stylesheet() string { return stylesheet }

// Inject adds the base stylesheet to doc. Injecting twice is a no-op.
func Inject(doc dom.Document) error {
	if err := doc.InjectStylesheet(StylesheetID, stylesheet); err != nil {
		return fmt.Errorf("transform: inject stylesheet: %w", err)
	}
	return nil
}
