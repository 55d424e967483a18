package task

import (
	"fmt"
	"strings"

	"github.com/Dhanuzh/airefiner/internal/langdetect"
)

// DefaultTranslateThreshold is the confidence an English guess must exceed
// before auto-translate commits to EN→ZH.
const DefaultTranslateThreshold = 0.70

// Route is the concrete plan for one request.
type Route struct {
	Task           ID     // task the user asked for
	Resolved       ID     // task actually run
	Template       string // prompt with a {{text}} placeholder
	TargetLanguage string // "" for non-translation tasks
	// Fallback is set when auto-translate was not confident and fell back to refine.
	Fallback bool
}

// Render substitutes text into the template.
func (r Route) Render(text string) string {
	return strings.ReplaceAll(r.Template, textPlaceholder, text)
}

// Router maps a task and a detection result to a Route.
type Router struct {
	threshold float64
}

// NewRouter creates a router; a non-positive threshold uses the default.
func NewRouter(threshold float64) *Router {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultTranslateThreshold
	}
	return &Router{threshold: threshold}
}

// Threshold returns the EN→ZH confidence threshold.
func (r *Router) Threshold() float64 { return r.threshold }

// Route picks the template. det is only consulted for AutoTranslate.
func (r *Router) Route(id ID, det langdetect.Result) (Route, error) {
	switch id {
	case Refine, RefinePresentation:
		return fixed(id, id, ""), nil
	case EnToZh:
		return fixed(id, EnToZh, "Simplified Chinese"), nil
	case ZhToEn:
		return fixed(id, ZhToEn, "English"), nil
	case AutoTranslate:
		switch {
		case det.IsChinese():
			return fixed(id, ZhToEn, "English"), nil
		case det.IsEnglish() && det.Confidence > r.threshold:
			return fixed(id, EnToZh, "Simplified Chinese"), nil
		default:
			rt := fixed(id, Refine, "")
			rt.Fallback = true
			return rt, nil
		}
	default:
		return Route{}, fmt.Errorf("unknown task %q", id)
	}
}

func fixed(requested, resolved ID, target string) Route {
	return Route{
		Task:           requested,
		Resolved:       resolved,
		Template:       Templates[resolved],
		TargetLanguage: target,
	}
}
