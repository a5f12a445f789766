package transform

import (
	"fmt"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/role"
)

// LabelButton appends a text label to an action control keyed by its
// data-testid. Unknown controls and controls that already carry a label are
// left alone. It reports whether a label was added.
func LabelButton(button dom.Element) (bool, error) {
	testID, ok, err := button.Attr("data-testid")
	if err != nil {
		return false, fmt.Errorf("transform: label: %w", err)
	}
	if !ok {
		return false, nil
	}
	label, known := role.Label(testID)
	if !known {
		return false, nil
	}

	existing, err := button.Query("." + role.ClassButtonLabel)
	if err != nil {
		return false, fmt.Errorf("transform: label: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	attrs := map[string]string{"class": role.ClassButtonLabel}
	if err := button.AppendChild("span", attrs, label); err != nil {
		return false, fmt.Errorf("transform: label %s: %w", testID, err)
	}
	return true, nil
}
