// Package triage classifies incoming messages with a deterministic,
// keyword-driven rule chain. No network access, no NLP: the same message
// always produces the same annotation.
package triage

import (
	"strings"

	"github.com/whall/draftpilot/internal/mail"
)

// Category identifies the kind of request a message contains.
type Category string

const (
	// CategorySearchRequest marks requests to look up or research a third
	// party via a generic search engine.
	CategorySearchRequest Category = "search_request"

	// CategoryRemovalUnverified marks removal/takedown requests that arrive
	// without any supporting documentation.
	CategoryRemovalUnverified Category = "removal_request_unverified"

	// CategoryRemovalDocumented marks removal requests citing expungement,
	// dismissal, or sealed-record status, pending legal documentation review.
	CategoryRemovalDocumented Category = "removal_request_documented"

	// CategoryLegalThreat marks messages containing legal-threat language.
	CategoryLegalThreat Category = "legal_threat"

	// CategoryUnknown is the default: the message needs manual review.
	CategoryUnknown Category = "unknown"
)

// Importance is the triage priority tier for a message.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// AutoAction is the suggested disposition for a message.
type AutoAction string

const (
	ActionArchive   AutoAction = "archive"
	ActionImportant AutoAction = "important"
	ActionHold      AutoAction = "hold"
	ActionRespond   AutoAction = "respond"
)

// Annotation is the categorizer's verdict for one message.
type Annotation struct {
	Category   Category   `json:"category"`
	Importance Importance `json:"importance"`
	AutoAction AutoAction `json:"auto_action"`
}

// Fallback is the safe default annotation. Callers substituting an external
// classifier must fall back to it when that classifier fails.
func Fallback() Annotation {
	return Annotation{
		Category:   CategoryUnknown,
		Importance: ImportanceMedium,
		AutoAction: ActionHold,
	}
}

// rule pairs a predicate with the annotation it produces. Rules are evaluated
// in order and the first match wins, so position encodes priority.
type rule struct {
	name       string
	matches    func(in input) bool
	annotation Annotation
}

// input is the normalized view of a message the rules match against.
type input struct {
	text           string // lowercased subject + body
	hasAttachments bool
}

// rules is the ordered chain. Earlier rules shadow later ones: a removal
// request that also threatens legal action is still a removal request.
var rules = []rule{
	{
		name: "search request",
		matches: func(in input) bool {
			return strings.Contains(in.text, "google") &&
				containsAny(in.text, "search", "find", "look up")
		},
		annotation: Annotation{
			Category:   CategorySearchRequest,
			Importance: ImportanceLow,
			AutoAction: ActionRespond,
		},
	},
	{
		name: "removal request without documentation",
		matches: func(in input) bool {
			// An attachment, or any mention of attaching one, routes the
			// message past this rule toward the documented-removal path.
			return strings.Contains(in.text, "remove") &&
				!strings.Contains(in.text, "attach") &&
				!in.hasAttachments
		},
		annotation: Annotation{
			Category:   CategoryRemovalUnverified,
			Importance: ImportanceMedium,
			AutoAction: ActionRespond,
		},
	},
	{
		name: "documented removal claim",
		matches: func(in input) bool {
			return containsAny(in.text, "expunge", "dismiss", "sealed")
		},
		annotation: Annotation{
			Category:   CategoryRemovalDocumented,
			Importance: ImportanceMedium,
			AutoAction: ActionRespond,
		},
	},
	{
		name: "legal threat",
		matches: func(in input) bool {
			return containsAny(in.text, "sue", "lawyer", "legal action", "attorney")
		},
		annotation: Annotation{
			Category:   CategoryLegalThreat,
			Importance: ImportanceHigh,
			AutoAction: ActionHold,
		},
	},
}

// Categorize maps a message to its annotation by walking the rule chain.
// Matching is case-insensitive substring search over subject + body.
func Categorize(msg *mail.Message) Annotation {
	in := input{
		text:           strings.ToLower(msg.Subject + " " + msg.Body),
		hasAttachments: msg.HasAttachments(),
	}

	for _, r := range rules {
		if r.matches(in) {
			return r.annotation
		}
	}
	return Fallback()
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
