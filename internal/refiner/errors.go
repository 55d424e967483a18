package refiner

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/resilience"
)

// Friendly converts engine errors into provider.UserFriendlyError values for
// display. Errors it does not recognize are returned unchanged.
func Friendly(err error) error {
	if err == nil {
		return nil
	}

	var open *resilience.CircuitOpenError
	if errors.As(err, &open) {
		wait := "shortly"
		if !open.RetryAt.IsZero() {
			if d := time.Until(open.RetryAt).Round(time.Second); d > 0 {
				wait = "in " + d.String()
			}
		}
		return &provider.UserFriendlyError{
			Title:            "Provider Temporarily Disabled",
			Message:          fmt.Sprintf("%s failed repeatedly and is temporarily disabled.", open.Key),
			Suggestion:       fmt.Sprintf("It will be tried again %s. Pick another model to continue now.", wait),
			TechnicalDetails: err.Error(),
			Original:         err,
		}
	}

	if errors.Is(err, catalog.ErrNoModelsAvailable) {
		return &provider.UserFriendlyError{
			Title:   "No Models Available",
			Message: "No provider returned a usable model list.",
			Suggestion: `Check your API keys and connectivity:
  1. Set OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, GROQ_API_KEY, XAI_API_KEY or QWEN_API_KEY
  2. Or run 'airefiner auth login <provider>'
  3. Then retry with 'airefiner models --refresh'`,
			TechnicalDetails: err.Error(),
			Original:         err,
		}
	}

	if errors.Is(err, ErrEmptyInput) {
		return &provider.UserFriendlyError{
			Title:    "Nothing To Process",
			Message:  "The input text is empty.",
			Original: err,
		}
	}

	var inv *InvocationError
	if errors.As(err, &inv) {
		return provider.MakeUserFriendly(err, inv.Provider)
	}
	return err
}
