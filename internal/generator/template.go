package generator

import (
	"context"
	"fmt"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/triage"
)

// Reply templates keyed by category. The removal link and legal address are
// placeholders the operator substitutes via config or by editing the draft.
const (
	searchRequestReply = "Thank you for contacting us.\n\n" +
		"We don't provide research services. The information you're looking for " +
		"can be found through a standard Google search.\n\nBest regards"

	removalUnverifiedReply = "Thank you for your removal request.\n\n" +
		"To process removals, we require official legal documentation. Please " +
		"submit your request with supporting documents at [REMOVAL_LINK].\n\n" +
		"Our legal team will review within 5-7 business days.\n\nBest regards"

	removalDocumentedReply = "Thank you for contacting us regarding your case.\n\n" +
		"To process expungement or dismissal removals, please attach official " +
		"court documents showing the case status change.\n\n" +
		"Once we verify the documentation, we'll process the removal within " +
		"24-48 hours.\n\nBest regards"

	legalThreatReply = "We have received your communication and it has been logged.\n\n" +
		"For legal matters, please direct all correspondence to: legal@[YOUR_DOMAIN]\n\n" +
		"All communications are preserved and documented per standard legal " +
		"procedures.\n\nBest regards"
)

// TemplateGenerator is the deterministic built-in generator: it categorizes
// the message and returns the canned reply for that category. It never fails,
// which makes it the safe default when no remote backend is configured.
type TemplateGenerator struct{}

// NewTemplateGenerator returns the built-in template generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate implements Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, msg *mail.Message, account string) (Draft, error) {
	ann := triage.Categorize(msg)

	var text string
	switch ann.Category {
	case triage.CategorySearchRequest:
		text = searchRequestReply
	case triage.CategoryRemovalUnverified:
		text = removalUnverifiedReply
	case triage.CategoryRemovalDocumented:
		text = removalDocumentedReply
	case triage.CategoryLegalThreat:
		text = legalThreatReply
	default:
		text = fmt.Sprintf("[MANUAL REVIEW NEEDED]\n\n"+
			"This email requires personal attention. Please review and respond appropriately.\n\n"+
			"Original message from: %s\nSubject: %s", msg.Sender, msg.Subject)
	}

	return Draft{
		Text:       text,
		Category:   ann.Category,
		Importance: ann.Importance,
	}, nil
}
